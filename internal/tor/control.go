package tor

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"strings"
	"time"
)

// controlCookieFile is the name of the control-port cookie inside a Tor data
// directory.
const controlCookieFile = "control_auth_cookie"

// controlConn speaks the line-based Tor control protocol. Only the handful of
// commands needed to publish a private v3 service are implemented.
type controlConn struct {
	conn *textproto.Conn
}

// dialControl connects to the control port at address.
func dialControl(ctx context.Context, address string) (*controlConn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control port: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline) //nolint:errcheck // a failed deadline only loses the bound
	}
	return &controlConn{conn: textproto.NewConn(raw)}, nil
}

// Close closes the control connection. Detached services survive it.
func (c *controlConn) Close() error {
	return c.conn.Close()
}

// command sends one command line and returns the reply lines of a 25x
// response. Tor uses 251 and 252 for successful variants of some commands.
func (c *controlConn) command(format string, args ...any) ([]string, error) {
	line := fmt.Sprintf(format, args...)
	id, err := c.conn.Cmd("%s", line)
	if err != nil {
		return nil, err
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	verb, _, _ := strings.Cut(line, " ")
	_, message, err := c.conn.ReadResponse(25)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrControlCommand, verb, err)
	}
	return strings.Split(message, "\n"), nil
}

// authenticateCookieFile reads the control cookie from path and sends it.
func (c *controlConn) authenticateCookieFile(path string) error {
	cookie, err := os.ReadFile(path) //nolint:gosec // path is inside our own Tor data dir
	if err != nil {
		return fmt.Errorf("failed to read control cookie: %w", err)
	}
	_, err = c.command("AUTHENTICATE %s", hex.EncodeToString(cookie))
	return err
}

// addOnion publishes a detached v3 service for keyBlob mapping virtualPort
// to 127.0.0.1:localPort. When clientAuthKey is set only clients holding the
// matching private key can reach it. It returns the service id.
func (c *controlConn) addOnion(keyBlob string, virtualPort, localPort int, clientAuthKey string) (string, error) {
	line := fmt.Sprintf("ADD_ONION %s Flags=Detach", keyBlob)
	if clientAuthKey != "" {
		line += ",V3Auth"
	}
	line += fmt.Sprintf(" Port=%d,127.0.0.1:%d", virtualPort, localPort)
	if clientAuthKey != "" {
		line += " ClientAuthV3=" + clientAuthKey
	}

	lines, err := c.command("%s", line)
	if err != nil {
		return "", err
	}
	for _, l := range lines {
		if id, ok := strings.CutPrefix(l, "ServiceID="); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: ADD_ONION: no ServiceID in reply", ErrControlCommand)
}

// addClientAuth registers privateKey ("x25519:<base64>") for serviceID.
func (c *controlConn) addClientAuth(serviceID, privateKey string) error {
	_, err := c.command("ONION_CLIENT_AUTH_ADD %s %s", serviceID, privateKey)
	return err
}

// delOnion removes a detached service.
func (c *controlConn) delOnion(serviceID string) error {
	_, err := c.command("DEL_ONION %s", serviceID)
	return err
}

// withControl dials, authenticates and runs fn, closing the connection after.
func withControl(ctx context.Context, address, cookiePath string, timeout time.Duration, fn func(*controlConn) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctrl, err := dialControl(ctx, address)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.authenticateCookieFile(cookiePath); err != nil {
		return err
	}
	return fn(ctrl)
}
