// SPDX-License-Identifier: GPL-3.0-or-later

package oncp

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// maxRedirects bounds how many Location-header hops HttpsTransport will
// follow before giving up with a ProtocolError, matching "followed up
// to a sensible fixed count" from the error handling design.
const maxRedirects = 10

// ncpVersionHeader is sent on every request to the gateway, as required
// by the HTTP request surface.
const ncpVersionHeader = "3"

// HttpsTransport performs the gateway-facing half of the authentication
// flow: GET/POST round trips over the connect -> TLS -> HTTP pipeline,
// threading an ordered cookie jar across requests and following
// redirects up to [maxRedirects].
//
// Construct with [NewHttpsTransport]; call [*HttpsTransport.Close] when
// the session ends to release the underlying connection.
type HttpsTransport struct {
	Host     string
	Port     int
	Resolver *PeerResolver
	Cmd      *CmdChannel
	TLS      *tls.Config
	Logger   SLogger

	cfg  *Config
	jar  *CookieJar
	conn *HTTPConn
	cio  *CancellableIO
}

// NewHttpsTransport returns a [*HttpsTransport] targeting host:port.
// tlsConfig.ServerName defaults to host if empty.
func NewHttpsTransport(cfg *Config, host string, port int, tlsConfig *tls.Config, cmd *CmdChannel, logger SLogger) *HttpsTransport {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.ServerName = host
	}
	return &HttpsTransport{
		Host:     host,
		Port:     port,
		Resolver: NewPeerResolver(),
		Cmd:      cmd,
		TLS:      tlsConfig,
		Logger:   logger,
		cfg:      cfg,
		jar:      &CookieJar{},
		cio:      NewCancellableIO(cfg, cmd),
	}
}

// Jar returns the transport's cookie jar.
func (t *HttpsTransport) Jar() *CookieJar {
	return t.jar
}

// ensureConn lazily dials, TLS-handshakes, and wraps the connection the
// first time a request is issued, or reuses the existing one.
func (t *HttpsTransport) ensureConn(ctx context.Context) (*HTTPConn, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	watched := CmdWatch(ctx, t.Cmd)

	addr, err := t.Resolver.Resolve(watched, netOpAddr(t.Host, t.Port))
	if err != nil {
		return nil, err
	}

	// Route the dial through CancellableIO.Connect (our cancellable_connect
	// analogue) while keeping ConnectFunc's connectStart/connectDone
	// logging wrapped around it.
	connectOp := &ConnectFunc{
		Dialer:        cancellableIODialer{t.cio},
		ErrClassifier: t.cfg.ErrClassifier,
		Logger:        t.Logger,
		Network:       "tcp",
		TimeNow:       t.cfg.TimeNow,
	}
	rawConn, err := connectOp.Call(watched, addr)
	if err != nil {
		return nil, NewError(KindIo, "connect", err)
	}
	t.Resolver.MarkConnected(addr)

	observeOp := NewObserveConnFunc(t.cfg, t.Logger)
	observed, err := observeOp.Call(watched, rawConn)
	if err != nil {
		rawConn.Close()
		return nil, NewError(KindIo, "observe", err)
	}

	cancelOp := NewCancelWatchFunc()
	watchedConn, _ := cancelOp.Call(watched, observed)

	tlsOp := NewTLSHandshakeFunc(t.cfg, t.TLS, t.Logger)
	tlsConn, err := tlsOp.Call(watched, watchedConn)
	if err != nil {
		return nil, NewError(KindIo, "tlsHandshake", err)
	}

	httpConnOp := NewHTTPConnFuncTLS(t.cfg, t.Logger)
	hc, err := httpConnOp.Call(watched, tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, NewError(KindIo, "httpConn", err)
	}

	t.conn = hc
	return hc, nil
}

// Get performs a GET against urlPath, applying cookies from the jar and
// following redirects.
func (t *HttpsTransport) Get(ctx context.Context, urlPath string) (*http.Response, []byte, error) {
	return t.roundTrip(ctx, http.MethodGet, urlPath, nil)
}

// Post performs a POST of body (a URL-encoded form body) against
// urlPath, applying cookies from the jar and following redirects.
func (t *HttpsTransport) Post(ctx context.Context, urlPath string, body []byte) (*http.Response, []byte, error) {
	return t.roundTrip(ctx, http.MethodPost, urlPath, body)
}

func (t *HttpsTransport) roundTrip(ctx context.Context, method, urlPath string, body []byte) (*http.Response, []byte, error) {
	redirects := 0
	for {
		hc, err := t.ensureConn(ctx)
		if err != nil {
			return nil, nil, err
		}

		req, err := t.newRequest(ctx, method, urlPath, body)
		if err != nil {
			return nil, nil, NewError(KindInvalidArg, "newRequest", err)
		}

		resp, err := hc.RoundTrip(req)
		if err != nil {
			return nil, nil, NewError(KindIo, "roundTrip", err)
		}

		t.applyCookies(resp)

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return resp, nil, NewError(KindIo, "readBody", err)
		}

		if loc := resp.Header.Get("Location"); loc != "" && isRedirectStatus(resp.StatusCode) {
			redirects++
			if redirects > maxRedirects {
				return resp, respBody, NewError(KindProtocolError, "roundTrip", errTooManyRedirects)
			}
			urlPath = loc
			method = http.MethodGet
			body = nil
			continue
		}

		return resp, respBody, nil
	}
}

func (t *HttpsTransport) newRequest(ctx context.Context, method, urlPath string, body []byte) (*http.Request, error) {
	target := urlPath
	if !strings.HasPrefix(target, "https://") {
		target = "https://" + t.Host + urlPath
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("NCP-Version", ncpVersionHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookieHeader := t.cookieHeader(); cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}
	return req, nil
}

func (t *HttpsTransport) cookieHeader() string {
	cookies := t.jar.Cookies()
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// applyCookies records every Set-Cookie header from resp into the jar,
// ensuring cookies observed during a single response are all applied
// before the next form is fetched.
func (t *HttpsTransport) applyCookies(resp *http.Response) {
	for _, sc := range resp.Cookies() {
		t.jar.Set(sc.Name, sc.Value)
	}
}

// Close releases the underlying connection, if any.
func (t *HttpsTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func isRedirectStatus(code int) bool {
	return code == http.StatusMovedPermanently ||
		code == http.StatusFound ||
		code == http.StatusSeeOther ||
		code == http.StatusTemporaryRedirect ||
		code == http.StatusPermanentRedirect
}

func netOpAddr(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

var errTooManyRedirects = portResolveErr("too many redirects")
