// Package auth handles operator authentication for the governance API.
// JWT HS256 session tokens, bcrypt password hashes, role-based
// permissions.
package auth

import (
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Role groups a named set of permissions.
type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// PreDefinedRoles are the built-in operator roles.
var PreDefinedRoles = map[string]Role{
	"admin": {
		Name:        "admin",
		Permissions: []string{"*:*"},
	},
	"operator": {
		Name:        "operator",
		Permissions: []string{"governance:read", "governance:write", "thresholds:read", "thresholds:write"},
	},
	"viewer": {
		Name:        "viewer",
		Permissions: []string{"governance:read", "thresholds:read"},
	},
}

// User is an operator account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Claims are the JWT claims carried by a session token.
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	User      User   `json:"user"`
}

// Manager handles authentication and authorization.
type Manager struct {
	mu        sync.RWMutex
	jwtSecret string
	users     map[string]*User
	passwords map[string]string
	roles     map[string]Role
	tokenTTL  time.Duration
}

// NewManager creates an auth manager. An empty secret gets a random
// per-session one; a non-positive TTL falls back to 24h.
func NewManager(jwtSecret string, tokenTTL time.Duration) *Manager {
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Printf("[Auth] Generated random JWT secret for session (not persistent)")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	m := &Manager{
		jwtSecret: jwtSecret,
		users:     make(map[string]*User),
		passwords: make(map[string]string),
		roles:     make(map[string]Role),
		tokenTTL:  tokenTTL,
	}
	for name, role := range PreDefinedRoles {
		m.roles[name] = role
	}

	// Default admin account (password: admin). Replace in production.
	admin := &User{
		ID:        "user-admin",
		Username:  "admin",
		Role:      "admin",
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	m.users[admin.ID] = admin
	passwordHash, _ := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	m.passwords[admin.ID] = string(passwordHash)

	return m
}

// CreateUser adds an operator account.
func (m *Manager) CreateUser(username, password, role string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[role]; !ok {
		return nil, fmt.Errorf("unknown role: %s", role)
	}
	for _, u := range m.users {
		if u.Username == username {
			return nil, fmt.Errorf("username already taken: %s", username)
		}
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:        fmt.Sprintf("user-%s", generateRandomSecret(6)),
		Username:  username,
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	m.users[user.ID] = user
	m.passwords[user.ID] = string(passwordHash)
	log.Printf("[Auth] Created user %s with role %s", username, role)
	return user, nil
}

// Login authenticates a user and returns a session token.
func (m *Manager) Login(username, password string) (*LoginResponse, error) {
	m.mu.RLock()
	var user *User
	for _, u := range m.users {
		if u.Username == username && u.IsActive {
			user = u
			break
		}
	}
	var passwordHash string
	if user != nil {
		passwordHash = m.passwords[user.ID]
	}
	m.mu.RUnlock()

	if user == nil || passwordHash == "" {
		return nil, fmt.Errorf("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid username or password")
	}

	token, err := m.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		Token:     token,
		ExpiresIn: int64(m.tokenTTL.Seconds()),
		User:      *user,
	}, nil
}

// GenerateToken creates a JWT for a user.
func (m *Manager) GenerateToken(user *User) (string, error) {
	m.mu.RLock()
	role, ok := m.roles[user.Role]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown role: %s", user.Role)
	}

	now := time.Now()
	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: role.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "sentinel",
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}

// ValidateToken parses and validates a session token.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// HasPermission checks a claim set against a required permission.
// Supports "*:*" and per-resource wildcards like "governance:*".
func (m *Manager) HasPermission(claims *Claims, permission string) bool {
	for _, p := range claims.Permissions {
		if p == permission || p == "*:*" {
			return true
		}
		parts := strings.Split(permission, ":")
		if len(parts) == 2 && p == parts[0]+":*" {
			return true
		}
	}
	return false
}

// ListUsers lists all accounts.
func (m *Manager) ListUsers() []*User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", bytes)
}
