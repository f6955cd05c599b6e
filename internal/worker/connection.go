package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/relay/internal/budget"
	"github.com/ShayCichocki/relay/internal/protocol"
	"github.com/ShayCichocki/relay/internal/queue"
)

// DefaultHeartbeatInterval is how often a connected worker reports liveness.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultReconnectInterval is the fixed delay between reconnect attempts.
const DefaultReconnectInterval = 5 * time.Second

// Executor runs one submitted goal to completion.
type Executor interface {
	Execute(ctx context.Context, goal string, history []budget.Message, progress ProgressFunc, inbox *queue.MessageQueue) (string, error)
}

// Config configures a hub connection.
type Config struct {
	// HubURL is the websocket endpoint, e.g. ws://host:8080/ws.
	HubURL string
	// Token is the opaque bearer credential presented on connect.
	Token string
	// Identity is announced to the hub after the transport opens.
	Identity protocol.WorkerIdentity
	// HeartbeatInterval defaults to DefaultHeartbeatInterval when zero.
	HeartbeatInterval time.Duration
	// ReconnectInterval defaults to DefaultReconnectInterval when zero.
	ReconnectInterval time.Duration
}

type runningTask struct {
	cancel context.CancelFunc
	inbox  *queue.MessageQueue
}

// Connection maintains the persistent link to the hub: it announces identity,
// emits heartbeats, and turns inbound task:submit frames into concurrent task
// executions. It is the single owner of the taskId to cancellation set.
type Connection struct {
	cfg  Config
	exec Executor

	mu      sync.Mutex
	conn    *websocket.Conn
	tasks   map[string]*runningTask
	config  map[string]any
	stopped bool

	startedAt time.Time
}

// New creates a Connection; call Run to connect.
func New(cfg Config, exec Executor) *Connection {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	return &Connection{
		cfg:       cfg,
		exec:      exec,
		tasks:     make(map[string]*runningTask),
		config:    make(map[string]any),
		startedAt: time.Now(),
	}
}

// Run connects to the hub and processes frames until ctx is cancelled or
// Stop is called. Any unexpected close triggers a reconnect after the fixed
// interval, with unbounded attempts.
func (c *Connection) Run(ctx context.Context) error {
	for {
		if c.isStopped() {
			return nil
		}

		err := c.runOnce(ctx)
		if c.isStopped() || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("[worker] connection lost: %v, reconnecting in %s", err, c.cfg.ReconnectInterval)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// Stop cancels every outstanding task, closes the transport, and permanently
// disables reconnection.
func (c *Connection) Stop() {
	c.mu.Lock()
	c.stopped = true
	for id, t := range c.tasks {
		t.cancel()
		delete(c.tasks, id)
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Config returns a snapshot of the merged hub-pushed configuration.
func (c *Connection) Config() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.config))
	for k, v := range c.config {
		out[k] = v
	}
	return out
}

func (c *Connection) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Connection) runOnce(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.HubURL, header)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	identity := c.cfg.Identity
	identity.Platform = runtime.GOOS
	identity.RunningTasks = c.runningTaskIDsLocked()
	c.mu.Unlock()

	if err := c.send(protocol.NewConnected(identity)); err != nil {
		conn.Close()
		return fmt.Errorf("announce identity: %w", err)
	}
	log.Printf("[worker] connected to %s as %s", c.cfg.HubURL, identity.ID)

	heartbeatDone := make(chan struct{})
	go c.heartbeatLoop(heartbeatDone)
	defer close(heartbeatDone)

	// Serialized inbound loop; the tasks it spawns run concurrently with it.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		m, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[worker] dropping bad frame: %v", err)
			continue
		}
		c.handle(ctx, m)
	}
}

func (c *Connection) handle(ctx context.Context, m *protocol.Message) {
	switch m.Type {
	case protocol.TypeTaskSubmit:
		c.spawnTask(ctx, m)
	case protocol.TypeTaskStop:
		c.cancelTask(m.TaskID)
	case protocol.TypeTaskMessage:
		c.routeTaskMessage(m.TaskID, m.Message)
	case protocol.TypePing:
		if err := c.send(&protocol.Message{Type: protocol.TypePong}); err != nil {
			log.Printf("[worker] pong failed: %v", err)
		}
	case protocol.TypeConfigUpdate:
		c.mergeConfig(m.Config)
	default:
		log.Printf("[worker] ignoring frame type %s", m.Type)
	}
}

// spawnTask starts an independent execution bound to a fresh cancellation
// token. Execution failures are caught at the task boundary and reported as
// task:error frames; they never tear down the connection.
func (c *Connection) spawnTask(ctx context.Context, m *protocol.Message) {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &runningTask{cancel: cancel, inbox: queue.New()}

	c.mu.Lock()
	if _, exists := c.tasks[m.TaskID]; exists {
		c.mu.Unlock()
		cancel()
		log.Printf("[worker] duplicate submit for task %s ignored", m.TaskID)
		return
	}
	c.tasks[m.TaskID] = t
	c.mu.Unlock()

	taskID, goal, history := m.TaskID, m.Goal, m.Messages
	go func() {
		defer cancel()
		defer c.forgetTask(taskID)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[worker] task %s panicked: %v", taskID, r)
				c.sendTaskError(taskID, fmt.Sprintf("panic: %v", r))
			}
		}()

		if err := c.send(protocol.NewTaskStarted(taskID, "")); err != nil {
			log.Printf("[worker] task %s started frame failed: %v", taskID, err)
		}

		progress := func(event any) {
			frame, err := protocol.NewTaskProgress(taskID, event)
			if err != nil {
				log.Printf("[worker] task %s progress encode failed: %v", taskID, err)
				return
			}
			if err := c.send(frame); err != nil {
				log.Printf("[worker] task %s progress frame failed: %v", taskID, err)
			}
		}

		result, err := c.exec.Execute(taskCtx, goal, history, progress, t.inbox)
		switch {
		case taskCtx.Err() != nil:
			// Stopped, not errored; the hub already recorded the outcome.
			log.Printf("[worker] task %s stopped", taskID)
		case err != nil:
			c.sendTaskError(taskID, err.Error())
		default:
			if err := c.send(protocol.NewTaskCompleted(taskID, result)); err != nil {
				log.Printf("[worker] task %s completed frame failed: %v", taskID, err)
			}
		}
	}()
}

func (c *Connection) cancelTask(taskID string) {
	c.mu.Lock()
	t := c.tasks[taskID]
	delete(c.tasks, taskID)
	c.mu.Unlock()
	if t != nil {
		t.cancel()
	}
}

func (c *Connection) forgetTask(taskID string) {
	c.mu.Lock()
	delete(c.tasks, taskID)
	c.mu.Unlock()
}

// taskMessagePayload is the body of a task:message frame.
type taskMessagePayload struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (c *Connection) routeTaskMessage(taskID string, raw json.RawMessage) {
	c.mu.Lock()
	t := c.tasks[taskID]
	c.mu.Unlock()
	if t == nil {
		log.Printf("[worker] message for unknown task %s dropped", taskID)
		return
	}

	var payload taskMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Content == "" {
		// Tolerate a bare JSON string as the whole message.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			log.Printf("[worker] unparseable message for task %s dropped", taskID)
			return
		}
		payload = taskMessagePayload{Content: s}
	}
	t.inbox.Add(payload.Content, payload.Metadata)
}

func (c *Connection) mergeConfig(cfg map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range cfg {
		c.config[k] = v
	}
}

func (c *Connection) heartbeatLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			c.mu.Lock()
			running := len(c.tasks)
			c.mu.Unlock()
			frame := protocol.NewHeartbeat(protocol.HeartbeatStatus{
				Platform:     runtime.GOOS,
				Uptime:       time.Since(c.startedAt).Seconds(),
				Memory:       mem.Alloc,
				RunningTasks: running,
			})
			if err := c.send(frame); err != nil {
				log.Printf("[worker] heartbeat failed: %v", err)
			}
		}
	}
}

// send serializes writes; gorilla permits one concurrent writer.
func (c *Connection) send(m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) sendTaskError(taskID, msg string) {
	if err := c.send(protocol.NewTaskError(taskID, msg)); err != nil {
		log.Printf("[worker] task %s error frame failed: %v", taskID, err)
	}
}

func (c *Connection) runningTaskIDsLocked() []string {
	ids := make([]string, 0, len(c.tasks))
	for id := range c.tasks {
		ids = append(ids, id)
	}
	return ids
}
