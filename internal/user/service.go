package user

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"chat-server/internal/apperr"
)

type Service struct {
	repo      *Repository
	jwtSecret string
}

type Claims struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (Profile, error) {
	u, err := New(req)
	if err != nil {
		return Profile{}, err
	}
	if _, exists := s.repo.GetByEmail(req.Email); exists {
		return Profile{}, apperr.Conflict("an account already exists for %s", req.Email)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Profile{}, err
	}
	u.Password = string(hashed)

	u, err = s.repo.Upsert(ctx, u)
	if err != nil {
		return Profile{}, err
	}
	return u.Profile(), nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if req == nil || req.Email == "" || req.Password == "" {
		return nil, apperr.Invalid("email and password are required")
	}

	u, ok := s.repo.GetByEmail(req.Email)
	if !ok {
		return nil, apperr.Unauthenticated("invalid login credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthenticated("invalid login credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:   u.ID,
		Name: u.FullName(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chat-server",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})
	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{AccessToken: ss, Profile: u.Profile()}, nil
}

// VerifyToken resolves an opaque credential to its verified user. This is
// the identity contract the realtime layer depends on: the core never
// inspects the token beyond this call.
func (s *Service) VerifyToken(tokenString string) (User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return User{}, apperr.Unauthenticated("invalid token")
	}

	u, ok := s.repo.Get(claims.ID)
	if !ok {
		return User{}, apperr.Unauthenticated("unable to find user for token")
	}
	return u, nil
}

// ValidateToken adapts VerifyToken to the shape the auth middleware
// consumes: id and display name only.
func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	u, err := s.VerifyToken(tokenString)
	if err != nil {
		return "", "", err
	}
	return u.ID, u.FullName(), nil
}

// Get returns the user with the given id.
func (s *Service) Get(id string) (User, error) {
	u, ok := s.repo.Get(id)
	if !ok {
		return User{}, apperr.NotFound("user %s does not exist", id)
	}
	return u, nil
}

// List returns every profile except the caller's own.
func (s *Service) List(selfID string) []Profile {
	users := s.repo.GetAll(selfID)
	profiles := make([]Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	return profiles
}

func (s *Service) UpdateFirstName(ctx context.Context, userID, fname string) (Profile, error) {
	return s.update(ctx, userID, func(u User) (User, error) { return u.WithFirstName(fname) })
}

func (s *Service) UpdateLastName(ctx context.Context, userID, lname string) (Profile, error) {
	return s.update(ctx, userID, func(u User) (User, error) { return u.WithLastName(lname) })
}

func (s *Service) UpdateAvatar(ctx context.Context, userID, avatar string) (Profile, error) {
	return s.update(ctx, userID, func(u User) (User, error) { return u.WithAvatar(avatar) })
}

// Delete destroys the account. Accounts go away only through this path.
func (s *Service) Delete(ctx context.Context, userID string) error {
	_, ok, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("user %s does not exist", userID)
	}
	return nil
}

func (s *Service) update(ctx context.Context, userID string, fn func(User) (User, error)) (Profile, error) {
	u, err := s.Get(userID)
	if err != nil {
		return Profile{}, err
	}
	u, err = fn(u)
	if err != nil {
		return Profile{}, err
	}
	u, err = s.repo.Upsert(ctx, u)
	if err != nil {
		return Profile{}, err
	}
	return u.Profile(), nil
}
