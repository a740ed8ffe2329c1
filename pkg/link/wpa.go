package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	wpaService   = "fi.w1.wpa_supplicant1"
	wpaPath      = dbus.ObjectPath("/fi/w1/wpa_supplicant1")
	wpaInterface = wpaService + ".Interface"

	defaultPollInterval = 250 * time.Millisecond
)

// ErrAuthFailed is returned when the handshake is dropped before completion.
var ErrAuthFailed = errors.New("authentication handshake failed")

// WPA drives wpa_supplicant over the system D-Bus.
type WPA struct {
	ifname string
	poll   time.Duration
	log    *slog.Logger

	conn    *dbus.Conn
	iface   dbus.BusObject
	network dbus.ObjectPath
}

// NewWPA creates a stack for the given wireless interface.
func NewWPA(ifname string, log *slog.Logger) *WPA {
	if log == nil {
		log = slog.Default()
	}

	return &WPA{
		ifname: ifname,
		poll:   defaultPollInterval,
		log:    log.With(slog.String("component", "wpa"), slog.String("interface", ifname)),
	}
}

// Configure attaches to the interface and installs the network block.
func (w *WPA) Configure(ctx context.Context, creds Credentials) error {
	if creds.SSID == "" {
		return errors.New("ssid is required")
	}

	if w.conn == nil {
		conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to connect to system bus: %w", err)
		}
		w.conn = conn
	}

	root := w.conn.Object(wpaService, wpaPath)

	var path dbus.ObjectPath
	err := root.CallWithContext(ctx, wpaService+".GetInterface", 0, w.ifname).Store(&path)
	if err != nil {
		w.log.Debug("interface not managed yet, creating", slog.Any("error", err))
		args := map[string]dbus.Variant{"Ifname": dbus.MakeVariant(w.ifname)}
		if err := root.CallWithContext(ctx, wpaService+".CreateInterface", 0, args).Store(&path); err != nil {
			return fmt.Errorf("failed to attach to %s: %w", w.ifname, err)
		}
	}
	w.iface = w.conn.Object(wpaService, path)

	if err := w.iface.CallWithContext(ctx, wpaInterface+".RemoveAllNetworks", 0).Err; err != nil {
		return fmt.Errorf("failed to clear networks: %w", err)
	}

	if err := w.iface.CallWithContext(ctx, wpaInterface+".AddNetwork", 0, networkArgs(creds)).Store(&w.network); err != nil {
		return fmt.Errorf("failed to add network: %w", err)
	}

	return nil
}

// Start selects the configured network, which begins scanning and association.
func (w *WPA) Start(ctx context.Context) error {
	if w.iface == nil {
		return errors.New("not configured")
	}

	if err := w.iface.CallWithContext(ctx, wpaInterface+".SelectNetwork", 0, w.network).Err; err != nil {
		return fmt.Errorf("failed to select network: %w", err)
	}

	return nil
}

// Connect blocks until association and the key handshake complete.
func (w *WPA) Connect(ctx context.Context) error {
	if w.iface == nil {
		return errors.New("not configured")
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	handshake := false
	last := ""
	for {
		state, err := w.state()
		if err != nil {
			return err
		}

		if state != last {
			w.log.Debug("supplicant state", slog.String("state", state))
			last = state
		}

		switch state {
		case "completed":
			return nil
		case "4way_handshake", "group_handshake":
			handshake = true
		case "disconnected", "inactive":
			if handshake {
				return ErrAuthFailed
			}
		case "interface_disabled":
			return errors.New("interface disabled")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for association (last state %s): %w", state, ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitForAddress blocks until the interface has an IPv4 address.
func (w *WPA) WaitForAddress(ctx context.Context) (AddressInfo, error) {
	return waitForAddress(ctx, w.ifname, w.poll)
}

// Close releases the bus connection.
func (w *WPA) Close() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	w.iface = nil
	return err
}

func (w *WPA) state() (string, error) {
	v, err := w.iface.GetProperty(wpaInterface + ".State")
	if err != nil {
		return "", fmt.Errorf("failed to read supplicant state: %w", err)
	}

	state, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected state type %s", v.Signature())
	}

	return state, nil
}

// networkArgs builds the AddNetwork argument: WPA-PSK when a password is
// set, an open network otherwise.
func networkArgs(creds Credentials) map[string]dbus.Variant {
	args := map[string]dbus.Variant{
		"ssid":      dbus.MakeVariant(creds.SSID),
		"scan_ssid": dbus.MakeVariant(int32(1)),
	}

	if creds.Password == "" {
		args["key_mgmt"] = dbus.MakeVariant("NONE")
		return args
	}

	args["key_mgmt"] = dbus.MakeVariant("WPA-PSK")
	args["psk"] = dbus.MakeVariant(creds.Password)
	return args
}
