package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"capdissector/internal/capfile"
	"capdissector/internal/capture"
	"capdissector/internal/dissect"
	"capdissector/internal/field"
	"capdissector/internal/flow"
	"capdissector/internal/models"
	"capdissector/internal/packet"
)

// ErrNoFrame is returned for frame numbers that are not retained.
var ErrNoFrame = errors.New("frame not found")

// Client represents a connected WebSocket client that receives frames.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// Publisher receives every retained frame.
type Publisher interface {
	Publish(p *packet.Packet) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxFrames bounds the number of retained frames. The oldest frames are
// closed once the limit is reached; 0 means no limit.
func WithMaxFrames(n int) Option {
	return func(e *Engine) { e.maxFrames = n }
}

// WithPublisher forwards frames to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithFilter drops frames that f rejects.
func WithFilter(f dissect.Filter) Option {
	return func(e *Engine) { e.filter = f }
}

// WithSnapLen sets the snapshot length of live captures whose request does
// not carry one.
func WithSnapLen(n int) Option {
	return func(e *Engine) { e.snapLen = n }
}

// WithDissector replaces the default gopacket dissector.
func WithDissector(d *dissect.Engine) Option {
	return func(e *Engine) { e.dissector = d }
}

// Engine manages capture sessions, retains dissected frames and broadcasts
// their summaries to clients.
type Engine struct {
	log       *zap.Logger
	dissector *dissect.Engine
	filter    dissect.Filter
	publisher Publisher
	flows     *flow.Tracker
	maxFrames int
	snapLen   int

	mu          sync.Mutex
	clients     map[Client]bool
	liveCapture *capture.LiveCapture
	stopCh      chan struct{}
	capturing   bool

	// framesMu guards frames and order; readers hold it while using a packet
	// so that eviction cannot close it underneath them.
	framesMu sync.RWMutex
	frames   map[int]*packet.Packet
	order    []int
}

// New creates a new Engine.
func New(log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		log:     log,
		flows:   flow.NewTracker(),
		clients: make(map[Client]bool),
		frames:  make(map[int]*packet.Packet),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dissector == nil {
		e.dissector = dissect.NewEngine()
	}
	return e
}

// RegisterClient adds a client to receive frame broadcasts.
func (e *Engine) RegisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[c] = true
}

// UnregisterClient removes a client.
func (e *Engine) UnregisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, c)
}

// GetInterfaces returns available network interfaces.
func (e *Engine) GetInterfaces() ([]models.InterfaceInfo, error) {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return nil, err
	}
	var out []models.InterfaceInfo
	for _, i := range ifaces {
		out = append(out, models.InterfaceInfo{
			Name:        i.Name,
			Description: i.Description,
			Addresses:   i.Addresses,
		})
	}
	return out, nil
}

// StartCapture begins a live capture on the given interface.
func (e *Engine) StartCapture(req models.StartCaptureRequest) error {
	e.mu.Lock()
	if e.capturing {
		e.mu.Unlock()
		return errors.New("capture already running")
	}
	e.mu.Unlock()

	lc, err := capture.NewLiveCapture(req.Interface, req.BPFFilter, e.captureSnapLen(req))
	if err != nil {
		return err
	}
	e.reset()

	e.mu.Lock()
	e.liveCapture = lc
	e.capturing = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.log.Info("capture started", zap.String("interface", req.Interface), zap.String("bpf", req.BPFFilter))
	payload, _ := json.Marshal(map[string]string{"interfaceName": req.Interface})
	e.broadcast(models.WSMessage{Type: "capture_started", Payload: payload})

	go e.captureLoop(capfile.New(lc, e.dissector, capfile.WithFilter(e.filter), capfile.WithLogger(e.log)), stopCh)
	return nil
}

// captureSnapLen picks the request's snapshot length, then the configured
// one. Zero leaves the choice to the capture package.
func (e *Engine) captureSnapLen(req models.StartCaptureRequest) int {
	if req.SnapLen > 0 {
		return req.SnapLen
	}
	return e.snapLen
}

// StopCapture stops the active capture.
func (e *Engine) StopCapture() {
	e.mu.Lock()
	if !e.capturing {
		e.mu.Unlock()
		return
	}
	e.capturing = false
	stopCh := e.stopCh
	lc := e.liveCapture
	e.mu.Unlock()

	// Broadcast first; closing the handle may block until the pending read
	// returns.
	e.broadcast(models.WSMessage{Type: "capture_stopped"})

	close(stopCh)
	lc.Close()
	e.log.Info("capture stopped", zap.String("interface", lc.Interface()))
}

// LoadPcapFile dissects a capture file, retains its frames and streams their
// summaries to all clients with pacing.
func (e *Engine) LoadPcapFile(path string) error {
	cf, err := capfile.Open(path, e.dissector, capfile.WithFilter(e.filter), capfile.WithLogger(e.log))
	if err != nil {
		return err
	}
	defer cf.Close()
	e.reset()

	batch := 0
	for {
		p, ok, err := cf.Next()
		if err != nil {
			if errors.Is(err, field.ErrInconsistent) {
				e.log.Error("dissector produced an inconsistent tree", zap.String("file", path), zap.Error(err))
			}
			return err
		}
		if !ok {
			break
		}
		e.ingest(p)

		// Yield every 200 frames so clients can keep up
		batch++
		if batch >= 200 {
			batch = 0
			time.Sleep(5 * time.Millisecond)
		}
	}

	read, accepted := cf.Count()
	e.log.Info("capture file loaded", zap.String("file", path), zap.Int("read", read), zap.Int("accepted", accepted))
	return nil
}

func (e *Engine) captureLoop(cf *capfile.File, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		p, ok, err := cf.Next()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			if errors.Is(err, field.ErrInconsistent) {
				e.log.Error("stopping capture", zap.Error(err))
				go e.StopCapture()
				return
			}
			e.log.Warn("frame read error", zap.Error(err))
			continue
		}
		if !ok {
			return
		}
		e.ingest(p)
	}
}

// ingest takes ownership of p.
func (e *Engine) ingest(p *packet.Packet) {
	flowID, _, _ := e.flows.Track(p)
	summary := Summarize(p)
	summary.FlowID = flowID

	if e.publisher != nil {
		if err := e.publisher.Publish(p); err != nil {
			e.log.Warn("publish failed", zap.Int("frame", p.Number()), zap.Error(err))
		}
	}

	e.framesMu.Lock()
	if old, ok := e.frames[p.Number()]; ok {
		old.Close()
	} else {
		e.order = append(e.order, p.Number())
	}
	e.frames[p.Number()] = p
	for e.maxFrames > 0 && len(e.order) > e.maxFrames {
		n := e.order[0]
		e.order = e.order[1:]
		if evicted, ok := e.frames[n]; ok {
			evicted.Close()
			delete(e.frames, n)
		}
	}
	e.framesMu.Unlock()

	payload, _ := json.Marshal(summary)
	e.broadcast(models.WSMessage{Type: "frame", Payload: payload})
}

// reset closes every retained frame and clears the flow table.
func (e *Engine) reset() {
	e.framesMu.Lock()
	for _, p := range e.frames {
		p.Close()
	}
	e.frames = make(map[int]*packet.Packet)
	e.order = nil
	e.framesMu.Unlock()

	e.flows.Reset()
	e.dissector.Reset()
}

// Summarize builds the list entry of p.
func Summarize(p *packet.Packet) models.FrameSummary {
	s := models.FrameSummary{
		Number: p.Number(),
		Length: p.Length(),
		Fields: p.Len(),
	}
	s.Timestamp, _ = p.Timestamp()
	s.SrcAddr, _ = p.SourceAddress()
	s.DstAddr, _ = p.DestinationAddress()
	s.Protocol, _ = p.Protocol()
	s.Info, _ = p.Info()
	return s
}

// Frames returns the summaries of all retained frames in arrival order.
func (e *Engine) Frames() []models.FrameSummary {
	e.framesMu.RLock()
	defer e.framesMu.RUnlock()

	out := make([]models.FrameSummary, 0, len(e.order))
	for _, n := range e.order {
		out = append(out, Summarize(e.frames[n]))
	}
	return out
}

// Frame calls fn with the retained frame n. The packet is valid only for
// the duration of fn.
func (e *Engine) Frame(n int, fn func(*packet.Packet) error) error {
	e.framesMu.RLock()
	defer e.framesMu.RUnlock()

	p, ok := e.frames[n]
	if !ok {
		return errors.Wrapf(ErrNoFrame, "frame %d", n)
	}
	return fn(p)
}

// Flows returns the current flow table.
func (e *Engine) Flows() []*flow.Flow {
	return e.flows.GetFlows()
}

// Close stops any capture and releases all frames.
func (e *Engine) Close() {
	e.StopCapture()
	e.reset()
}

func (e *Engine) broadcast(msg models.WSMessage) {
	e.mu.Lock()
	clients := make([]Client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	e.mu.Unlock()

	for _, c := range clients {
		if err := c.SendMessage(msg); err != nil {
			e.log.Debug("client send failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}
}
