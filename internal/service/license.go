package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Rainnny7/LicenseServer/internal/ledger"
	"github.com/Rainnny7/LicenseServer/internal/metrics"
	"github.com/Rainnny7/LicenseServer/internal/model"
	"github.com/Rainnny7/LicenseServer/internal/notify"
	"github.com/Rainnny7/LicenseServer/internal/util"
)

// 同一次操作中因并发修改而重新读取的最大次数
const maxSaveAttempts = 8

// 生成的密钥撞上已有记录时的重试次数
const maxCreateAttempts = 3

// Decrypter 解密客户端用服务端公钥加密的字段
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// SecretHasher 对密钥和 IP 做确定性哈希
type SecretHasher interface {
	License(rawKey string) string
	IP(ip string) string
}

// CheckRequest 客户端提交的校验请求，Key 和 HWID 为 base64 RSA 密文
type CheckRequest struct {
	Key     string `json:"key" validate:"required,max=1024"`
	Product string `json:"product" validate:"required,max=64"`
	HWID    string `json:"hwid" validate:"required,max=1024"`
	IP      string `json:"-"`

	// UserAgent 只写入审计记录
	UserAgent string `json:"-"`
}

const maxUserAgentLength = 256

type userAgentKey struct{}

// WithUserAgent 把客户端 User-Agent 放入上下文，Check 产生的事件会带上它
func WithUserAgent(ctx context.Context, ua string) context.Context {
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return context.WithValue(ctx, userAgentKey{}, ua)
}

func userAgentFrom(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}

// CreateLicenseInput 管理员创建许可证的参数，Duration 单位为秒，负数表示永久
type CreateLicenseInput struct {
	Product        string  `json:"product" validate:"required,max=64"`
	Description    string  `json:"description" validate:"max=256"`
	OwnerSnowflake *int64  `json:"owner_snowflake"`
	OwnerName      *string `json:"owner_name" validate:"omitempty,max=64"`
	Plan           string  `json:"plan" validate:"max=64"`
	LatestVersion  string  `json:"latest_version" validate:"max=32"`
	IPLimit        int     `json:"ip_limit" validate:"min=0"`
	HWIDLimit      int     `json:"hwid_limit" validate:"min=0"`
	Duration       int64   `json:"duration"`
}

type LicenseService struct {
	ledger   ledger.UsageLedger
	keys     Decrypter
	hasher   SecretHasher
	notifier notify.Notifier
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
	locks    *keyLocker
	validate *validator.Validate
}

type Option func(*LicenseService)

func WithNotifier(n notify.Notifier) Option {
	return func(s *LicenseService) { s.notifier = n }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *LicenseService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *LicenseService) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *LicenseService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewLicenseService(l ledger.UsageLedger, keys Decrypter, hasher SecretHasher, opts ...Option) *LicenseService {
	s := &LicenseService{
		ledger:   l,
		keys:     keys,
		hasher:   hasher,
		metrics:  metrics.Noop{},
		logger:   slog.Default(),
		now:      time.Now,
		locks:    newKeyLocker(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckEnvelope 校验请求格式并解密密钥和 HWID 后执行 Check
func (s *LicenseService) CheckEnvelope(ctx context.Context, req CheckRequest) (*model.LicenseView, error) {
	if err := s.validate.Struct(req); err != nil {
		s.metrics.IncCheck(outcome(ErrInvalidRequest))
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	rawKey, err := s.keys.Decrypt(req.Key)
	if err != nil {
		s.metrics.IncCheck(outcome(ErrSignature))
		return nil, ErrSignature
	}
	hwid, err := s.keys.Decrypt(req.HWID)
	if err != nil {
		s.metrics.IncCheck(outcome(ErrSignature))
		return nil, ErrSignature
	}
	if req.UserAgent != "" {
		ctx = WithUserAgent(ctx, req.UserAgent)
	}
	return s.Check(ctx, rawKey, req.Product, req.IP, hwid)
}

// Check 校验明文密钥并记录一次使用。
// 同一许可证的读取、检查、写回在进程内串行；跨进程由存储层的版本号比较保证。
func (s *LicenseService) Check(ctx context.Context, rawKey, product, ip, hwid string) (*model.LicenseView, error) {
	start := time.Now()
	view, err := s.check(ctx, rawKey, product, ip, hwid)
	s.metrics.IncCheck(outcome(err))
	s.metrics.ObserveCheckDuration(time.Since(start).Seconds())
	return view, err
}

func (s *LicenseService) check(ctx context.Context, rawKey, product, ip, hwid string) (*model.LicenseView, error) {
	if !ValidHWID(hwid) {
		return nil, ErrInvalidHWID
	}
	if err := s.validate.Var(ip, "required,ip"); err != nil {
		return nil, ErrInvalidIP
	}
	ip, err := normalizeIP(ip)
	if err != nil {
		return nil, err
	}

	keyHash := s.hasher.License(rawKey)
	ipHash := s.hasher.IP(ip)

	var newIP, newHWID bool
	license, err := s.update(ctx, keyHash, product, func(l *model.License) error {
		now := s.now()
		if l.HasExpiredAt(now) {
			return ErrLicenseExpired
		}
		newIP = !l.IPs.Contains(ipHash)
		newHWID = !l.HWIDs.Contains(hwid)
		return l.UseAt(ipHash, hwid, now)
	})

	event := func(t notify.EventType) notify.Event {
		e := notify.NewEvent(t, product)
		e.Key = util.ObfuscateKey(rawKey)
		e.KeyHash = keyHash
		e.IPHash = ipHash
		e.HWID = hwid
		e.UserAgent = userAgentFrom(ctx)
		if license != nil {
			e.OwnerSnowflake = license.OwnerSnowflake
			e.OwnerName = license.OwnerName
			e.Uses = license.Uses
		}
		return e
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrLicenseExpired):
		s.emit(ctx, event(notify.EventExpired))
		return nil, err
	case errors.Is(err, ErrIPLimitExceeded):
		s.emit(ctx, event(notify.EventIPLimit))
		return nil, err
	case errors.Is(err, ErrHWIDLimitExceeded):
		s.emit(ctx, event(notify.EventHWIDLimit))
		return nil, err
	default:
		return nil, err
	}

	s.emit(ctx, event(notify.EventUsed))
	if license.OwnerSnowflake != nil {
		if newIP {
			s.emit(ctx, event(notify.EventOwnerNewIP))
		}
		if newHWID {
			s.emit(ctx, event(notify.EventOwnerNewHWID))
		}
	}

	view := license.View()
	return &view, nil
}

// update 在许可证锁内执行 读取 -> mutate -> 写回。
// 写回遇到版本冲突说明其他进程抢先修改，基于最新记录重新执行 mutate。
// mutate 返回错误时不写回，返回值中的许可证为 mutate 之前读到的状态。
func (s *LicenseService) update(ctx context.Context, keyHash, product string, mutate func(*model.License) error) (*model.License, error) {
	unlock := s.locks.Lock(identity(keyHash, product))
	defer unlock()

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		license, err := s.find(ctx, keyHash, product)
		if err != nil {
			return nil, err
		}
		if err := mutate(license); err != nil {
			return license, err
		}

		err = s.ledger.Save(ctx, license)
		if errors.Is(err, ledger.ErrConflict) {
			s.logger.Debug("许可证并发修改，重新读取", "product", product, "attempt", attempt+1)
			continue
		}
		if err != nil {
			s.logger.Error("保存许可证失败", "product", product, "error", err)
			return nil, &PersistenceError{Op: "save", Err: err}
		}
		return license, nil
	}

	s.logger.Error("保存许可证失败，并发冲突次数过多", "product", product, "attempts", maxSaveAttempts)
	return nil, &PersistenceError{Op: "save", Err: ledger.ErrConflict}
}

func (s *LicenseService) find(ctx context.Context, keyHash, product string) (*model.License, error) {
	license, err := s.ledger.Find(ctx, keyHash, product)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		s.logger.Error("查询许可证失败", "product", product, "error", err)
		return nil, &PersistenceError{Op: "find", Err: err}
	}
	return license, nil
}

// normalizeIP 统一 IP 写法，IPv4 映射地址按 IPv4 计
func normalizeIP(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", ErrInvalidIP
	}
	return addr.Unmap().WithZone("").String(), nil
}

func (s *LicenseService) emit(ctx context.Context, e notify.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.Debug("事件未能入队", "type", e.Type, "error", err)
	}
}

// Create 生成新密钥并保存许可证，原始密钥只在这里返回一次
func (s *LicenseService) Create(ctx context.Context, in CreateLicenseInput) (string, *model.License, error) {
	if err := s.validate.Struct(in); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		rawKey, err := util.GenerateLicenseKey()
		if err != nil {
			return "", nil, fmt.Errorf("generate license key: %w", err)
		}
		license := &model.License{
			KeyHash:        s.hasher.License(rawKey),
			Product:        in.Product,
			Description:    in.Description,
			OwnerSnowflake: in.OwnerSnowflake,
			OwnerName:      in.OwnerName,
			Plan:           in.Plan,
			LatestVersion:  in.LatestVersion,
			IPs:            model.StringSet{},
			HWIDs:          model.StringSet{},
			IPLimit:        in.IPLimit,
			HWIDLimit:      in.HWIDLimit,
			Duration:       in.Duration,
			CreatedAt:      s.now(),
		}
		err = s.ledger.Insert(ctx, license)
		if errors.Is(err, ledger.ErrDuplicate) {
			continue
		}
		if err != nil {
			s.logger.Error("创建许可证失败", "product", in.Product, "error", err)
			return "", nil, &PersistenceError{Op: "insert", Err: err}
		}
		s.logger.Info("已创建许可证", "product", in.Product, "key", util.ObfuscateKey(rawKey))
		return rawKey, license, nil
	}
	return "", nil, &PersistenceError{Op: "insert", Err: ledger.ErrDuplicate}
}

// Lookup 按明文密钥查询许可证，不记录使用
func (s *LicenseService) Lookup(ctx context.Context, rawKey, product string) (*model.License, error) {
	return s.find(ctx, s.hasher.License(rawKey), product)
}

// ClearIPs 清空已记录的 IP，与 Check 使用同一把锁
func (s *LicenseService) ClearIPs(ctx context.Context, rawKey, product string) (*model.License, error) {
	return s.update(ctx, s.hasher.License(rawKey), product, func(l *model.License) error {
		l.IPs = model.StringSet{}
		return nil
	})
}

// ClearHWIDs 清空已记录的 HWID
func (s *LicenseService) ClearHWIDs(ctx context.Context, rawKey, product string) (*model.License, error) {
	return s.update(ctx, s.hasher.License(rawKey), product, func(l *model.License) error {
		l.HWIDs = model.StringSet{}
		return nil
	})
}

func (s *LicenseService) Delete(ctx context.Context, rawKey, product string) error {
	keyHash := s.hasher.License(rawKey)
	unlock := s.locks.Lock(identity(keyHash, product))
	defer unlock()

	err := s.ledger.Delete(ctx, keyHash, product)
	if errors.Is(err, ledger.ErrNotFound) {
		return ErrLicenseNotFound
	}
	if err != nil {
		s.logger.Error("删除许可证失败", "product", product, "error", err)
		return &PersistenceError{Op: "delete", Err: err}
	}
	s.logger.Info("已删除许可证", "product", product, "key", util.ObfuscateKey(rawKey))
	return nil
}

// CountByProduct 各产品的许可证数量
func (s *LicenseService) CountByProduct(ctx context.Context) (map[string]int64, error) {
	counts, err := s.ledger.CountByProduct(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "count", Err: err}
	}
	return counts, nil
}

// SeedDefault 存储为空时创建一个默认许可证（限额 1/1，永久）。
// 原始密钥只在创建时打印一次。
func (s *LicenseService) SeedDefault(ctx context.Context, product string) (string, bool, error) {
	counts, err := s.CountByProduct(ctx)
	if err != nil {
		return "", false, err
	}
	if len(counts) > 0 {
		return "", false, nil
	}

	rawKey, _, err := s.Create(ctx, CreateLicenseInput{
		Product:     product,
		Description: "This is an example license",
		Plan:        "Basic",
		IPLimit:     1,
		HWIDLimit:   1,
		Duration:    model.PermanentDuration,
	})
	if err != nil {
		return "", false, err
	}
	s.logger.Warn("已创建默认许可证，请妥善保存密钥", "product", product, "key", rawKey)
	return rawKey, true, nil
}

// ValidHWID HWID 由 4 段非空、以 - 分隔的值组成，可带第 5 段后缀
func ValidHWID(hwid string) bool {
	parts := strings.Split(hwid, "-")
	if len(parts) != 4 && len(parts) != 5 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func outcome(err error) string {
	var perr *PersistenceError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrSignature):
		return "signature"
	case errors.Is(err, ErrInvalidHWID):
		return "invalid_hwid"
	case errors.Is(err, ErrInvalidIP):
		return "invalid_ip"
	case errors.Is(err, ErrLicenseNotFound):
		return "not_found"
	case errors.Is(err, ErrLicenseExpired):
		return "expired"
	case errors.Is(err, ErrIPLimitExceeded):
		return "ip_limit"
	case errors.Is(err, ErrHWIDLimitExceeded):
		return "hwid_limit"
	case errors.As(err, &perr):
		return "persistence"
	default:
		return "error"
	}
}
