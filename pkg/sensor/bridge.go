package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the baud rate the bridge firmware configures.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds a single request/reply exchange.
	DefaultReadTimeout = time.Second

	maxLineLength = 64

	// Amplifier output is 24-bit two's complement.
	amplifierMin = -(1 << 23)
	amplifierMax = 1<<23 - 1
	analogMax    = 1<<16 - 1
)

// SerialPort describes a serial port found on the host.
type SerialPort struct {
	Name        string
	Description string
}

// conn is the subset of serial.Port the bridge uses.
type conn interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Bridge talks to the sensor-bridge MCU over a serial line. The MCU owns the
// ADC and the amplifier. Each request is one line "<tag> <command>" and gets
// one reply line "<tag> <payload>", where tag is a decimal sequence number
// echoed back by the firmware:
//
//	E      power amplifier on          -> OK
//	D      power amplifier off         -> OK
//	G128   select channel A, gain 128  -> OK
//	G32    select channel B, gain 32   -> OK
//	R      amplifier conversion        -> signed decimal
//	A<n>   analog conversion, input n  -> unsigned decimal
//
// Any request may instead be answered with "ERR <message>" as payload.
type Bridge struct {
	port     string
	baudRate int
	timeout  time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	conn    conn
	pending []byte
	seq     uint16
}

// NewBridge creates a Bridge for the given port. Zero values select defaults.
func NewBridge(port string, baudRate int, timeout time.Duration, log *slog.Logger) *Bridge {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Bridge{
		port:     port,
		baudRate: baudRate,
		timeout:  timeout,
		log:      log.With(slog.String("component", "sensor-bridge")),
	}
}

// SerialPorts returns a list of available serial ports.
func SerialPorts() ([]SerialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]SerialPort, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", d.Name, d.VID, d.PID, d.Product)
		}
		result = append(result, SerialPort{Name: d.Name, Description: desc})
	}

	return result, nil
}

// Open opens the serial port.
func (b *Bridge) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return errors.New("already open")
	}

	port, err := serial.Open(b.port, &serial.Mode{BaudRate: b.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", b.port, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return fmt.Errorf("failed to flush serial port %s: %w", b.port, err)
	}

	if err := port.SetReadTimeout(b.timeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", b.port, err)
	}

	b.conn = port
	b.pending = b.pending[:0]
	b.log.Info("sensor bridge opened", slog.String("port", b.port), slog.Int("baud", b.baudRate))

	return nil
}

// Close closes the serial port.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}

	err := b.conn.Close()
	b.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", b.port, err)
	}

	return nil
}

// PowerOn wakes the amplifier.
func (b *Bridge) PowerOn(ctx context.Context) error {
	return b.expectOK(ctx, "E")
}

// PowerOff puts the amplifier into power-down.
func (b *Bridge) PowerOff(ctx context.Context) error {
	return b.expectOK(ctx, "D")
}

// SelectMode selects the amplifier input and gain. The firmware clocks out one
// conversion with the new gain pulses, which is discarded.
func (b *Bridge) SelectMode(ctx context.Context, g Gain) error {
	switch g {
	case GainA128, GainB32:
	default:
		return fmt.Errorf("unsupported gain %d", g)
	}
	return b.expectOK(ctx, fmt.Sprintf("G%d", g))
}

// ConvertAndRead returns the next amplifier conversion.
func (b *Bridge) ConvertAndRead(ctx context.Context) (RawSample, error) {
	line, err := b.command(ctx, "R")
	if err != nil {
		return 0, err
	}
	return parseReading(line, amplifierMin, amplifierMax)
}

// ReadAnalog returns one conversion of the analog input behind ch.
func (b *Bridge) ReadAnalog(ctx context.Context, ch ChannelSpec) (RawSample, error) {
	line, err := b.command(ctx, fmt.Sprintf("A%d", ch.Input))
	if err != nil {
		return 0, err
	}
	return parseReading(line, 0, analogMax)
}

func (b *Bridge) expectOK(ctx context.Context, cmd string) error {
	line, err := b.command(ctx, cmd)
	if err != nil {
		return err
	}
	if line != "OK" {
		return fmt.Errorf("unexpected reply to %s: %q", cmd, line)
	}
	return nil
}

// command sends one tagged request line and returns the payload of the
// reply carrying the same tag. Lines with any other tag are late replies to
// earlier requests and are dropped.
func (b *Bridge) command(ctx context.Context, cmd string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return "", errors.New("not connected")
	}

	b.seq++
	tag := strconv.FormatUint(uint64(b.seq), 10)

	if _, err := b.conn.Write([]byte(tag + " " + cmd + "\n")); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", cmd, err)
	}

	deadline := time.Now().Add(b.timeout)
	for {
		line, err := b.readLine(ctx, deadline)
		if err != nil {
			b.resync()
			return "", fmt.Errorf("no reply to %s: %w", cmd, err)
		}

		got, payload, _ := strings.Cut(line, " ")
		if got != tag {
			b.log.Debug("dropping stale reply", slog.String("request", cmd), slog.String("line", line))
			continue
		}

		payload = strings.TrimSpace(payload)
		if msg, ok := strings.CutPrefix(payload, "ERR"); ok {
			return "", fmt.Errorf("%w: %s", ErrRemote, strings.TrimSpace(msg))
		}

		return payload, nil
	}
}

// resync discards everything received so far so a reply that arrives after
// its request gave up cannot be read as the answer to the next one.
func (b *Bridge) resync() {
	b.pending = b.pending[:0]
	if err := b.conn.ResetInputBuffer(); err != nil {
		b.log.Warn("failed to flush serial input", slog.Any("error", err))
	}
}

// readLine returns the next non-empty line received before deadline.
func (b *Bridge) readLine(ctx context.Context, deadline time.Time) (string, error) {
	chunk := make([]byte, maxLineLength)

	for {
		if i := bytes.IndexByte(b.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(b.pending[:i]))
			b.pending = b.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}

		if len(b.pending) > maxLineLength {
			return "", errors.New("reply line too long")
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		// Each read waits at most until the deadline, so one exchange never
		// takes longer than the configured timeout.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		if err := b.conn.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("failed to set read timeout: %w", err)
		}

		n, err := b.conn.Read(chunk)
		if err != nil {
			return "", err
		}
		b.pending = append(b.pending, chunk[:n]...)
	}
}

// parseReading parses a decimal reply and checks it against the converter range.
func parseReading(line string, lo, hi int64) (RawSample, error) {
	v, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reading %q: %w", line, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("reading out of range: %d (%d..%d)", v, lo, hi)
	}
	return v, nil
}
