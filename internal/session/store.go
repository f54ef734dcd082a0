package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/langchou/vehicleguard/internal/models"
)

// SlotKey 会话记录的槽位名
const SlotKey = "vehicleGuardUser"

// ErrInvalidCredentials 登录失败，不区分用户名不存在还是密码错误
var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyPassword 用户名不存在时参与比对的占位密码
const dummyPassword = "vehicleguard-dummy-password"

// Store 会话存储
type Store struct {
	logger      *zap.Logger
	slot        Slot
	credentials []models.Credential
	loginDelay  time.Duration
	dummyHash   []byte
	compare     func(hash, password []byte) error

	// changeMu 串行化会话变更与回调分发，回调按变更顺序到达
	changeMu sync.Mutex

	mu        sync.RWMutex
	current   *models.Session
	listeners []func(*models.Session)
}

// NewStore 创建会话存储
func NewStore(logger *zap.Logger, slot Slot, credentials []models.Credential, loginDelay time.Duration) *Store {
	cost := bcrypt.MinCost
	if len(credentials) > 0 {
		if c, err := bcrypt.Cost(credentials[0].PasswordHash); err == nil {
			cost = c
		}
	}
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		logger.Error("Failed to build dummy hash", zap.Error(err))
	}

	return &Store{
		logger:      logger,
		slot:        slot,
		credentials: credentials,
		loginDelay:  loginDelay,
		dummyHash:   dummyHash,
		compare:     bcrypt.CompareHashAndPassword,
	}
}

// OnChange 注册会话变化回调，登录/登出/加载后调用，参数为 nil 表示无会话
func (s *Store) OnChange(fn func(*models.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current 当前会话副本
func (s *Store) Current() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.current)
}

// Load 启动时读取持久化的会话
// 记录损坏时清空槽位并视为无会话
func (s *Store) Load(ctx context.Context) *models.Session {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	data, err := s.slot.Get(ctx, SlotKey)
	if err != nil {
		if !errors.Is(err, ErrSlotEmpty) {
			s.logger.Warn("Failed to read stored session", zap.Error(err))
		}
		return nil
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.ID == "" {
		s.logger.Warn("Stored session is corrupt, clearing", zap.Error(err))
		if err := s.slot.Delete(ctx, SlotKey); err != nil {
			s.logger.Error("Failed to clear corrupt session", zap.Error(err))
		}
		return nil
	}

	s.setCurrent(&sess)
	s.logger.Info("Restored session", zap.String("username", sess.Username))
	return copySession(&sess)
}

// Login 校验白名单凭据，模拟网络延迟
func (s *Store) Login(ctx context.Context, username, password string) (*models.Session, error) {
	if s.loginDelay > 0 {
		timer := time.NewTimer(s.loginDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	// 用户名不存在时也做一次比对，响应时间不暴露账号是否存在
	var found *models.Credential
	hash := s.dummyHash
	for i := range s.credentials {
		if s.credentials[i].Username == username {
			found = &s.credentials[i]
			hash = found.PasswordHash
			break
		}
	}
	err := s.compare(hash, []byte(password))

	if found == nil || err != nil {
		s.logger.Info("Login failed", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	sess := found.Session
	s.persist(ctx, &sess)
	s.setCurrent(&sess)

	s.logger.Info("Login successful", zap.String("username", sess.Username), zap.String("role", string(sess.Role)))
	return copySession(&sess), nil
}

// Logout 清空内存与持久化会话
func (s *Store) Logout(ctx context.Context) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	if err := s.slot.Delete(ctx, SlotKey); err != nil {
		s.logger.Error("Failed to clear stored session", zap.Error(err))
	}
	s.setCurrent(nil)
	s.logger.Info("Logged out")
}

// Update 合并字段并重新持久化，无会话时不做任何事
func (s *Store) Update(ctx context.Context, patch models.SessionPatch) (*models.Session, bool) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, false
	}
	updated := *s.current
	if patch.Username != nil {
		updated.Username = *patch.Username
	}
	if patch.Email != nil {
		updated.Email = *patch.Email
	}
	if patch.Phone != nil {
		updated.Phone = *patch.Phone
	}
	s.current = &updated
	s.mu.Unlock()

	s.persist(ctx, &updated)
	return copySession(&updated), true
}

// persist 写入槽位，失败只记录日志
func (s *Store) persist(ctx context.Context, sess *models.Session) {
	data, err := json.Marshal(sess)
	if err != nil {
		s.logger.Error("Failed to marshal session", zap.Error(err))
		return
	}
	if err := s.slot.Set(ctx, SlotKey, data); err != nil {
		s.logger.Error("Failed to persist session", zap.Error(err))
	}
}

// setCurrent 调用方持有 s.changeMu
func (s *Store) setCurrent(sess *models.Session) {
	s.mu.Lock()
	s.current = copySession(sess)
	listeners := append([]func(*models.Session){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(copySession(sess))
	}
}

func copySession(sess *models.Session) *models.Session {
	if sess == nil {
		return nil
	}
	c := *sess
	return &c
}

// DefaultCredentials 内置的演示账号
func DefaultCredentials() ([]models.Credential, error) {
	users := []struct {
		session  models.Session
		password string
	}{
		{
			session: models.Session{
				ID:        "1",
				Username:  "admin",
				Email:     "admin@vehicleguard.com",
				Phone:     "+1234567890",
				Role:      models.RoleAdmin,
				CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			},
			password: "admin123",
		},
		{
			session: models.Session{
				ID:        "2",
				Username:  "demo",
				Email:     "demo@vehicleguard.com",
				Phone:     "+0987654321",
				Role:      models.RoleUser,
				CreatedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			},
			password: "demo123",
		},
	}

	creds := make([]models.Credential, 0, len(users))
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", u.session.Username, err)
		}
		creds = append(creds, models.Credential{Session: u.session, PasswordHash: hash})
	}
	return creds, nil
}
