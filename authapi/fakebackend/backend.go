// Package fakebackend is an in-process identity backend speaking the gateway's wire
// protocol. It backs tests and the CLI's local demo mode.
package fakebackend

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/membership-session/authapi"
	"github.com/jrsteele09/membership-session/users"
)

const (
	defaultAccessTTL = 15 * time.Minute
	issuer           = "membership-fakebackend"
)

type ctxKey struct{}

type account struct {
	profile      users.Profile
	passwordHash string
	device       *authapi.Device
	resetCode    string
}

type override struct {
	status int
	body   any
}

// Backend holds accounts and issued tokens in memory.
type Backend struct {
	lock       sync.RWMutex
	accounts   map[string]*account
	access     map[string]string
	refresh    map[string]string
	overrides  map[string]override
	calls      map[string]int
	signingKey []byte
	accessTTL  time.Duration
	nowTime    func() time.Time
	router     chi.Router
}

var _ http.Handler = (*Backend)(nil)

type Option func(*Backend)

func WithAccessTTL(d time.Duration) Option {
	return func(b *Backend) {
		b.accessTTL = d
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(b *Backend) {
		b.nowTime = now
	}
}

func WithSigningKey(key []byte) Option {
	return func(b *Backend) {
		b.signingKey = key
	}
}

func New(options ...Option) *Backend {
	b := &Backend{
		accounts:   make(map[string]*account),
		access:     make(map[string]string),
		refresh:    make(map[string]string),
		overrides:  make(map[string]override),
		calls:      make(map[string]int),
		signingKey: []byte(uuid.NewString()),
		accessTTL:  defaultAccessTTL,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	b.router = b.routes()
	return b
}

func (b *Backend) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, b.record, b.applyOverrides)

	r.Post(authapi.RouteLogin, b.handleLogin)
	r.Post(authapi.RouteRegister, b.handleRegister)
	r.Post(authapi.RouteRefresh, b.handleRefresh)
	r.Post(authapi.RouteForgotPassword, b.handleForgotPassword)
	r.Post(authapi.RouteResetPassword, b.handleResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(b.requireBearer)
		r.Post(authapi.RouteLogout, b.handleLogout)
		r.Get(authapi.RouteProfile, b.handleGetProfile)
		r.Put(authapi.RouteProfile, b.handleUpdateProfile)
		r.Post(authapi.RouteChangePassword, b.handleChangePassword)
		r.Post(authapi.RouteDeviceRegister, b.handleDeviceRegister)
		r.Post(authapi.RouteDeviceUnregister, b.handleDeviceUnregister)
	})
	return r
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

// AddAccount seeds a user. An empty ID is generated.
func (b *Backend) AddAccount(profile users.Profile, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return errors.Wrap(err, "[Backend.AddAccount] hash password")
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.accounts[normalizeEmail(profile.Email)] = &account{profile: profile, passwordHash: string(hash)}
	return nil
}

// Override forces every request to route to answer with status and body until cleared.
func (b *Backend) Override(route string, status int, body any) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.overrides[route] = override{status: status, body: body}
}

func (b *Backend) ClearOverrides() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.overrides = make(map[string]override)
}

// Calls counts requests received on route.
func (b *Backend) Calls(route string) int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.calls[route]
}

func (b *Backend) TotalCalls() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// RevokeAccessTokens invalidates every issued access token.
func (b *Backend) RevokeAccessTokens() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.access = make(map[string]string)
}

func (b *Backend) RevokeRefreshTokens() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refresh = make(map[string]string)
}

func (b *Backend) Device(email string) (authapi.Device, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	acc, ok := b.accounts[normalizeEmail(email)]
	if !ok || acc.device == nil {
		return authapi.Device{}, false
	}
	return *acc.device, true
}

func (b *Backend) ResetCode(email string) string {
	b.lock.RLock()
	defer b.lock.RUnlock()
	if acc, ok := b.accounts[normalizeEmail(email)]; ok {
		return acc.resetCode
	}
	return ""
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.lock.Lock()
		b.calls[r.URL.Path]++
		b.lock.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) applyOverrides(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.lock.RLock()
		o, ok := b.overrides[r.URL.Path]
		b.lock.RUnlock()
		if ok {
			writeJSON(w, o.status, o.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		email, ok := b.verifyAccess(strings.TrimSpace(auth[len(prefix):]))
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type", "code": "token_not_valid"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, email)))
	})
}

func (b *Backend) verifyAccess(token string) (string, bool) {
	b.lock.RLock()
	email, issued := b.access[token]
	b.lock.RUnlock()
	if !issued {
		return "", false
	}
	_, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return b.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(b.nowTime),
	)
	return email, err == nil
}

// issue mints a JWT access token and an opaque refresh token. Callers hold the write lock.
func (b *Backend) issue(email string) (string, string, error) {
	now := b.nowTime()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"sub": email,
		"iat": now.Unix(),
		"exp": now.Add(b.accessTTL).Unix(),
		"jti": uuid.NewString(),
	}).SignedString(b.signingKey)
	if err != nil {
		return "", "", errors.Wrap(err, "[Backend.issue] sign access token")
	}
	refresh := uuid.NewString()
	b.access[access] = email
	b.refresh[refresh] = email
	return access, refresh, nil
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req users.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed request."})
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	acc, ok := b.accounts[normalizeEmail(req.Email)]
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	access, refresh, err := b.issue(normalizeEmail(req.Email))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    snakeProfile(acc.profile),
		"access":  access,
		"refresh": refresh,
	})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req users.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Email and password are required."})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}

	email := normalizeEmail(req.Email)
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, exists := b.accounts[email]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "A user with this email already exists."})
		return
	}
	now := b.nowTime().UTC().Format(time.RFC3339)
	profile := users.Profile{
		ID:               uuid.NewString(),
		Email:            req.Email,
		Phone:            req.Phone,
		Name:             req.Name,
		MembershipStatus: users.NoActiveMembership,
		ReferralCode:     strings.ToUpper(uuid.NewString()[:8]),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	b.accounts[email] = &account{profile: profile, passwordHash: string(hash)}

	access, refresh, err := b.issue(email)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	// Registration answers in camelCase, the login handler in snake_case.
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":         profile,
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "This field is required."})
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	email, ok := b.refresh[req.Refresh]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	delete(b.refresh, req.Refresh)
	access, refresh, err := b.issue(email)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	b.lock.Lock()
	delete(b.access, token)
	b.lock.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out."})
}

func (b *Backend) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	acc, ok := b.accounts[emailFrom(r)]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, snakeProfile(acc.profile))
}

func (b *Backend) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch users.ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed request."})
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	acc, ok := b.accounts[emailFrom(r)]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	acc.profile = acc.profile.Apply(patch)
	acc.profile.UpdatedAt = b.nowTime().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, snakeProfile(acc.profile))
}

func (b *Backend) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "New password is required."})
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	acc, ok := b.accounts[emailFrom(r)]
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(req.OldPassword)) != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "Current password is incorrect."}})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	acc.passwordHash = string(hash)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully."})
}

func (b *Backend) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.lock.Lock()
	if acc, ok := b.accounts[normalizeEmail(req.Email)]; ok {
		acc.resetCode = resetCode()
	}
	b.lock.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "If an account exists, a reset code has been sent."})
}

func (b *Backend) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "New password is required."})
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	acc, ok := b.accounts[normalizeEmail(req.Email)]
	if !ok || acc.resetCode == "" || acc.resetCode != req.Code {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid or expired reset code."})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	acc.passwordHash = string(hash)
	acc.resetCode = ""
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset."})
}

func (b *Backend) handleDeviceRegister(w http.ResponseWriter, r *http.Request) {
	var device authapi.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil || device.PushToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "push_token is required."})
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if acc, ok := b.accounts[emailFrom(r)]; ok {
		acc.device = &device
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Device registered."})
}

func (b *Backend) handleDeviceUnregister(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if acc, ok := b.accounts[emailFrom(r)]; ok {
		acc.device = nil
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Device unregistered."})
}

func snakeProfile(p users.Profile) map[string]any {
	return map[string]any{
		"id":                p.ID,
		"email":             p.Email,
		"phone":             p.Phone,
		"name":              p.Name,
		"membership_id":     p.MembershipID,
		"membership_plan":   p.MembershipPlan,
		"membership_status": p.MembershipStatus,
		"monthly_fee":       fmt.Sprintf("%.2f", p.MonthlyFee),
		"renewal_date":      p.RenewalDate,
		"can_cancel":        p.CanCancel,
		"can_reactivate":    p.CanReactivate,
		"auto_renew":        p.AutoRenew,
		"referral_code":     p.ReferralCode,
		"rewards_balance":   p.RewardsBalance,
		"created_at":        p.CreatedAt,
		"updated_at":        p.UpdatedAt,
	}
}

func emailFrom(r *http.Request) string {
	email, _ := r.Context().Value(ctxKey{}).(string)
	return email
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func resetCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
