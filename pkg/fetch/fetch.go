// Package fetch makes HTTP requests through acquired proxy endpoints.
package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"

	"proxybroker/pkg/models"
)

// Options contains the configuration for a fetch request.
type Options struct {
	// HTTP method to use (default: "GET")
	Method string
	// Raw HTTP headers to add (without \r\n)
	Headers []string
	// Timeout in seconds (default: 10)
	TimeoutSec int
}

// Result contains the response from a fetch request.
type Result struct {
	Response *http.Response
	Body     []byte
}

// NewClient builds an HTTP client that routes all traffic through the
// endpoint. http(s) endpoints use the transport's proxy support with
// embedded basic auth; socks5 endpoints use an authenticated SOCKS dialer.
func NewClient(ep models.Endpoint, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{}

	switch ep.Scheme {
	case "http", "https":
		proxyURL, err := url.Parse(ep.URL())
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5":
		var auth *xproxy.Auth
		if ep.Username != "" {
			auth = &xproxy.Auth{User: ep.Username, Password: ep.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", net.JoinHostPort(ep.Host, fmt.Sprint(ep.Port)), auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("could not create socks5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme: %q", ep.Scheme)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// Fetch makes an HTTP request through the endpoint with the given options.
func Fetch(ctx context.Context, rawURL string, ep models.Endpoint, opts Options) (*Result, error) {
	if opts.Method == "" {
		opts.Method = "GET"
	}
	if opts.TimeoutSec == 0 {
		opts.TimeoutSec = 10
	}

	client, err := NewClient(ep, time.Duration(opts.TimeoutSec)*time.Second)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Process headers
	if len(opts.Headers) > 0 {
		headerText := strings.Join(opts.Headers, "\r\n") + "\r\n\r\n"
		h, err := textproto.NewReader(bufio.NewReader(strings.NewReader(headerText))).ReadMIMEHeader()
		if err != nil {
			return nil, fmt.Errorf("invalid header line: %w", err)
		}
		for name, values := range h {
			for _, value := range values {
				req.Header.Add(name, value)
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read of page body failed: %w", err)
	}

	return &Result{Response: resp, Body: body}, nil
}
