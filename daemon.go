package glowseq

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"

	"libdb.so/glowseq/internal/groupqueue"
	"libdb.so/glowseq/internal/leddriver"
	"libdb.so/glowseq/internal/playback"
	"libdb.so/glowseq/internal/step"
	"libdb.so/glowseq/ledserial"
)

var (
	// ErrQueueFull is returned by Play when the sequence does not fit in the
	// playback queue.
	ErrQueueFull = errors.New("playback queue full")
	// ErrUnknownSequence is returned by Play for a name not in the
	// configuration.
	ErrUnknownSequence = errors.New("unknown sequence")
)

var errLinkClosed = errors.New("controller link is not open")

const buttonPoll = 100 * time.Millisecond

// Option configures a Daemon.
type Option func(*options)

type options struct {
	driver    playback.Driver
	link      io.ReadWriter
	powerPin  gpio.PinOut
	buttonPin gpio.PinIn
	registry  *prometheus.Registry
}

// WithDriver makes the daemon drive drv instead of the serial controller.
// No serial link is opened.
func WithDriver(drv playback.Driver) Option {
	return func(o *options) { o.driver = drv }
}

// WithLink makes the daemon talk to the controller over rw instead of
// opening the configured serial device. If rw is an io.Closer, it is closed
// on shutdown to unblock the packet reader; otherwise Run waits for the
// pending read to return.
func WithLink(rw io.ReadWriter) Option {
	return func(o *options) { o.link = rw }
}

// WithPowerPin switches the LED driver's enable line through pin.
func WithPowerPin(pin gpio.PinOut) Option {
	return func(o *options) { o.powerPin = pin }
}

// WithButtonPin dismisses the active sequence when pin sees a falling edge.
func WithButtonPin(pin gpio.PinIn) Option {
	return func(o *options) { o.buttonPin = pin }
}

// WithRegistry registers the daemon's metrics in reg. The metrics endpoint
// serves reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

type sequence struct {
	steps   []step.Step
	preempt bool
}

// Daemon is the main glowseq daemon. It plays configured sequences on the LED
// controller one tick at a time.
type Daemon struct {
	cfg     *Config
	logger  *slog.Logger
	opts    options
	metrics *metrics

	sequences map[string]sequence
	queue     *groupqueue.Queue[step.Step]
	machine   *playback.Machine
	tap       *frameTap

	serial *leddriver.Serial // nil when driving opts.driver
	link   link
}

// NewDaemon creates a new glowseq daemon.
func NewDaemon(cfg *Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		sequences: make(map[string]sequence, len(cfg.Sequences)),
		queue:     groupqueue.New[step.Step](cfg.QueueCapacity),
	}
	for _, opt := range opts {
		opt(&d.opts)
	}
	if d.opts.registry == nil {
		d.opts.registry = prometheus.NewRegistry()
	}
	d.metrics = newMetrics(d.opts.registry)

	tick := cfg.Tick.Duration()
	for i := range cfg.Sequences {
		seq := &cfg.Sequences[i]
		d.sequences[seq.Name] = sequence{
			steps:   seq.Group(tick, i),
			preempt: seq.Preempt,
		}
	}

	drv := d.opts.driver
	if drv == nil {
		d.serial = leddriver.NewSerial(&d.link, cfg.Channels, logger)
		d.serial.OnError = func(error) { d.metrics.writeErrors.Inc() }
		drv = d.serial
	}
	d.tap = newFrameTap(drv, cfg.Channels)

	d.machine = playback.New(d.queue, d.tap, cfg.Channels)
	d.machine.SetLogger(logger)
	d.machine.SetHooks(playback.Hooks{
		GroupStarted: func(uint8, int, uint16) {
			d.metrics.active.Set(1)
		},
		GroupFinished: func(uint8) {
			d.metrics.played.Inc()
			d.metrics.active.Set(0)
		},
		GroupDismissed: func(uint8) {
			d.metrics.dismissed.Inc()
			d.metrics.active.Set(0)
		},
	})

	if d.opts.powerPin != nil {
		power, err := leddriver.NewGPIOPower(d.opts.powerPin, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to set up power pin")
		}
		d.machine.SetPowerSwitch(power)
	}

	return d, nil
}

// Sequences returns the names of all configured sequences, sorted.
func (d *Daemon) Sequences() []string {
	names := make([]string, 0, len(d.sequences))
	for name := range d.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Play queues the named sequence. If the sequence preempts and the sequence
// currently playing is preemptable, the playing one is dismissed on the next
// tick. Play may be called before Run and from any goroutine.
func (d *Daemon) Play(name string) error {
	seq, ok := d.sequences[name]
	if !ok {
		return errors.Wrapf(ErrUnknownSequence, "%q", name)
	}

	if !d.queue.PutGroup(seq.steps) {
		d.metrics.rejected.Inc()
		return errors.Wrapf(ErrQueueFull, "cannot queue %q", name)
	}
	d.metrics.enqueued.Inc()
	d.metrics.outstanding.Set(float64(d.queue.Size()))

	if seq.preempt && d.machine.IsPreemptable() {
		id, _ := d.machine.ActiveGroupID()
		d.logger.Debug(
			"preempting active sequence",
			"sequence", name,
			"group_id", id)
		d.machine.RequestDismiss()
	}

	return nil
}

// Dismiss aborts the sequence currently playing, if any.
func (d *Daemon) Dismiss() {
	d.machine.RequestDismiss()
}

// Active returns the group ID of the sequence currently playing.
func (d *Daemon) Active() (groupID uint8, ok bool) {
	return d.machine.ActiveGroupID()
}

// Frame returns the channel magnitudes last written to the LEDs.
func (d *Daemon) Frame() Magnitudes {
	return d.tap.frame()
}

// Run starts the daemon. It blocks until the given context is canceled. The
// LEDs are turned off and the queue is emptied when Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)
	tickDone := make(chan struct{})

	if d.serial != nil {
		rw, err := d.openLink()
		if err != nil {
			return err
		}
		d.link.set(rw)

		errg.Go(func() error {
			<-ctx.Done()
			// Let the tick loop turn the LEDs off first.
			<-tickDone
			d.link.set(nil)

			if c, ok := rw.(io.Closer); ok {
				d.logger.Debug("closing controller link")
				if err := c.Close(); err != nil {
					return errors.Wrap(err, "failed to close controller link")
				}
			}
			return ctx.Err()
		})
		errg.Go(func() error {
			return d.readPackets(ctx, rw)
		})
	}

	errg.Go(func() error {
		defer close(tickDone)
		return d.tickLoop(ctx)
	})

	if d.opts.buttonPin != nil {
		errg.Go(func() error {
			return d.watchButton(ctx, d.opts.buttonPin)
		})
	}

	if d.cfg.MetricsAddr != "" {
		errg.Go(func() error {
			return d.serveMetrics(ctx)
		})
	}

	return errg.Wait()
}

func (d *Daemon) openLink() (io.ReadWriter, error) {
	if d.opts.link != nil {
		return d.opts.link, nil
	}

	port, err := serial.Open(d.cfg.Device, &serial.Mode{
		BaudRate: d.cfg.Baud,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open serial port")
	}

	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "failed to reset read timeout")
	}

	return port, nil
}

func (d *Daemon) tickLoop(ctx context.Context) error {
	if d.serial != nil {
		d.logger.Debug("sending initialize packet")
		if err := d.serial.Initialize(); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(d.cfg.Tick.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.machine.Reset()
			d.metrics.outstanding.Set(0)
			d.metrics.active.Set(0)
			return ctx.Err()

		case <-ticker.C:
			d.machine.Tick()
			d.metrics.outstanding.Set(float64(d.queue.Size()))
		}
	}
}

func (d *Daemon) readPackets(ctx context.Context, r io.Reader) error {
	for ctx.Err() == nil {
		p, err := ledserial.ReadOutgoingPacket(r)
		if err != nil {
			// A short read indicates a timeout. This is expected.
			// Ignore the error and try again.
			if errors.Is(err, io.EOF) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			return errors.Wrap(err, "failed to read packet")
		}

		if err := d.handlePacket(p); err != nil {
			return err
		}
	}

	return ctx.Err()
}

func (d *Daemon) handlePacket(p ledserial.OutgoingPacket) error {
	switch p := p.(type) {
	case ledserial.AckPacket:
		d.logger.Debug(
			"received ack packet from controller",
			"acked_for", p.IncomingPacketType)

	case ledserial.ErrorPacket:
		d.logger.Warn(
			"received error packet from controller",
			"message", p.Message)

	case ledserial.PanicPacket:
		d.logger.Error(
			"controller unrecoverably panicked",
			"message", p.Message)
		return errors.New("controller panicked")

	case ledserial.LogPacket:
		d.logger.Info(
			"received log packet from controller",
			"message", p.Message)

	default:
		return errors.Errorf("received unknown packet from controller: %s", p.Type())
	}

	return nil
}

func (d *Daemon) watchButton(ctx context.Context, pin gpio.PinIn) error {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return errors.Wrap(err, "failed to set up button pin")
	}

	for ctx.Err() == nil {
		if pin.WaitForEdge(buttonPoll) {
			d.logger.Debug("dismiss button pressed", "pin", pin.Name())
			d.Dismiss()
		}
	}

	return ctx.Err()
}

func (d *Daemon) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.opts.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              d.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	d.logger.Debug("serving metrics", "addr", d.cfg.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server failed")
	}

	return ctx.Err()
}

// link is the controller connection the serial driver writes to. It is only
// open while Run is.
type link struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *link) set(w io.Writer) {
	l.mu.Lock()
	l.w = w
	l.mu.Unlock()
}

func (l *link) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return 0, errLinkClosed
	}
	return l.w.Write(b)
}
