// Package notify 把许可证校验事件异步分发到日志、审计表、Google Sheets 和 Kafka。
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rainnny7/LicenseServer/internal/config"
)

type EventType string

const (
	EventUsed         EventType = "license.used"
	EventExpired      EventType = "license.expired"
	EventIPLimit      EventType = "license.ip_limit"
	EventHWIDLimit    EventType = "license.hwid_limit"
	EventOwnerNewIP   EventType = "license.owner_new_ip"
	EventOwnerNewHWID EventType = "license.owner_new_hwid"
)

// CountsAsCheck 事件是否对应一次校验结果；owner 提醒是附带事件，不计入校验次数
func (t EventType) CountsAsCheck() bool {
	return t != EventOwnerNewIP && t != EventOwnerNewHWID
}

var ErrQueueFull = errors.New("notify queue full")

// Event 一次校验产生的事件，不包含原始密钥和原始 IP
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Product        string    `json:"product"`
	Key            string    `json:"key"` // 已打码
	KeyHash        string    `json:"-"`
	IPHash         string    `json:"ip_hash,omitempty"`
	HWID           string    `json:"hwid,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	OwnerSnowflake *int64    `json:"owner_snowflake,omitempty"`
	OwnerName      *string   `json:"owner_name,omitempty"`
	Uses           int64     `json:"uses"`
	Time           time.Time `json:"time"`
}

func NewEvent(t EventType, product string) Event {
	return Event{ID: uuid.NewString(), Type: t, Product: product, Time: time.Now().UTC()}
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Filter 决定某个 sink 是否接收该类型事件
type Filter func(EventType) bool

func AllEvents(EventType) bool { return true }

// FlagsFromConfig 按配置开关过滤事件
func FlagsFromConfig(cfg config.NotifyConfig) Filter {
	flags := map[EventType]bool{
		EventUsed:         cfg.Uses,
		EventExpired:      cfg.Expired,
		EventIPLimit:      cfg.IPLimitExceeded,
		EventHWIDLimit:    cfg.HWIDLimitExceeded,
		EventOwnerNewIP:   cfg.OwnerNewIP,
		EventOwnerNewHWID: cfg.OwnerNewHWID,
	}
	return func(t EventType) bool { return flags[t] }
}

type route struct {
	name   string
	sink   Notifier
	filter Filter
}

const sinkTimeout = 10 * time.Second

// Dispatcher 单个后台 worker 按顺序把事件投递给所有 sink。
// 队列满时丢弃事件，校验请求不会因为通知而阻塞。
type Dispatcher struct {
	routes []route
	queue  chan Event
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func NewDispatcher(queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:  make(chan Event, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Add 注册 sink，必须在 Start 之前调用
func (d *Dispatcher) Add(name string, sink Notifier, filter Filter) {
	if filter == nil {
		filter = AllEvents
	}
	d.routes = append(d.routes, route{name: name, sink: sink, filter: filter})
}

func (d *Dispatcher) Start() {
	d.once.Do(func() {
		go d.run()
	})
}

func (d *Dispatcher) Notify(_ context.Context, e Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil
	}
	select {
	case d.queue <- e:
		return nil
	default:
		d.logger.Warn("通知队列已满，丢弃事件", "type", e.Type, "id", e.ID)
		return ErrQueueFull
	}
}

// Close 停止接收事件，等待队列中剩余事件投递完毕后关闭 sink
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.Start()
	<-d.done

	var errs []error
	for _, r := range d.routes {
		if c, ok := r.sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, r := range d.routes {
		if !r.filter(e.Type) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := r.sink.Notify(ctx, e); err != nil {
			d.logger.Warn("事件投递失败", "sink", r.name, "type", e.Type, "error", err)
		}
		cancel()
	}
}
