package handler

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

// tunnel handles a protocol-upgrade request (e.g. WebSocket). The target
// was already resolved and port-normalized like any proxied request; from
// here the HTTP layer is abandoned: the handshake is replayed to the
// origin verbatim, the client socket is hijacked, and both sockets are
// spliced until either side closes. No rewriting applies to tunneled
// bytes.
func (h *ProxyHandler) tunnel(c echo.Context, target *url.URL) error {
	req := c.Request()

	upstream, err := h.client.DialUpgrade(req.Context(), target)
	if err != nil {
		h.logger.Error("tunnel dial failed", "target", target.String(), "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin connection failed",
		})
	}

	if _, err := upstream.Write(handshakeBytes(req, target)); err != nil {
		_ = upstream.Close()
		h.logger.Error("tunnel handshake write failed", "target", target.String(), "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin connection failed",
		})
	}

	hj, ok := c.Response().Writer.(http.Hijacker)
	if !ok {
		_ = upstream.Close()
		h.logger.Error("tunnel requires a hijackable connection")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "upgrade not supported",
		})
	}
	clientConn, bufrw, err := hj.Hijack()
	if err != nil {
		_ = upstream.Close()
		h.logger.Error("tunnel hijack failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "upgrade not supported",
		})
	}

	// Bytes the server read past the handshake belong to the tunnel.
	if n := bufrw.Reader.Buffered(); n > 0 {
		if _, err := io.CopyN(upstream, bufrw.Reader, int64(n)); err != nil {
			_ = upstream.Close()
			_ = clientConn.Close()
			h.logger.Error("tunnel buffered-byte flush failed", "err", err)
			return nil
		}
	}

	if h.metrics != nil {
		h.metrics.TunnelsActive.Inc()
		defer h.metrics.TunnelsActive.Dec()
	}
	h.logger.Debug("tunnel established", "target", target.String())

	h.splice(clientConn, upstream)
	return nil
}

// splice copies bytes in both directions until one side closes or errors,
// then tears both sockets down. The origin's 101 response reaches the
// client through the upstream-to-client copy like any other bytes.
func (h *ProxyHandler) splice(clientConn, upstream net.Conn) {
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(upstream, clientConn)
		_ = upstream.Close()
		_ = clientConn.Close()
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(clientConn, upstream)
		_ = upstream.Close()
		_ = clientConn.Close()
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Debug("tunnel closed", "err", err)
	}
}

// handshakeBytes serializes the client's upgrade request for the origin,
// preserving the Connection and Upgrade headers the forwarding path would
// strip.
func handshakeBytes(req *http.Request, target *url.URL) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, target.RequestURI())
	fmt.Fprintf(&buf, "Host: %s\r\n", target.Host)
	for k, vals := range req.Header {
		if k == "Host" {
			continue
		}
		for _, v := range vals {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}
