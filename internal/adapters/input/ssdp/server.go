// Package ssdp answers UPnP discovery searches so Hue clients find the bridge.
package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"harmony-bridge/internal/logger"
)

const multicastAddr = "239.255.255.250:1900"

type Server struct {
	ip     string
	port   int
	logger zerolog.Logger
}

func NewServer(ip string, port int) *Server {
	return &Server{ip: ip, port: port, logger: logger.WithComponent("ssdp")}
}

// Run joins the SSDP multicast group and answers searches until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return err
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("joining %s: %w", multicastAddr, err)
	}
	s.logger.Info().Str("location", s.location()).Msg("SSDP responder started")
	return s.Serve(ctx, conn)
}

// Serve answers searches read from conn. It closes conn when ctx is done.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, 2048)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Debug().Err(err).Msg("SSDP read failed")
			continue
		}

		if !isSearch(string(buf[:n])) {
			continue
		}
		s.logger.Debug().Stringer("from", src).Msg("Answering M-SEARCH")
		if err := s.respond(conn, src); err != nil {
			s.logger.Debug().Err(err).Stringer("to", src).Msg("SSDP reply failed")
		}
	}
}

// isSearch reports whether msg is an M-SEARCH an Echo answers to. Echo Dot 3
// often searches for urn:schemas-upnp-org:device:basic:1 or upnp:rootdevice.
func isSearch(msg string) bool {
	msg = strings.ToLower(msg)
	if !strings.HasPrefix(msg, "m-search") {
		return false
	}
	return strings.Contains(msg, "urn:schemas-upnp-org:device:basic:1") ||
		strings.Contains(msg, "upnp:rootdevice") ||
		strings.Contains(msg, "ssdp:all")
}

func (s *Server) location() string {
	return fmt.Sprintf("http://%s:%d/description.xml", s.ip, s.port)
}

func (s *Server) response() string {
	return "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=100\r\n" +
		"EXT:\r\n" +
		"LOCATION: " + s.location() + "\r\n" +
		"SERVER: FreeRTOS/6.0.5, UPnP/1.1, IpBridge/1.17.0\r\n" +
		"hue-bridgeid: 001788FFFE102201\r\n" +
		"ST: urn:schemas-upnp-org:device:basic:1\r\n" +
		"USN: uuid:2f402f80-da50-11e1-9b23-001788102201::urn:schemas-upnp-org:device:basic:1\r\n\r\n"
}

func (s *Server) respond(conn net.PacketConn, dest net.Addr) error {
	udp, ok := dest.(*net.UDPAddr)
	if !ok {
		_, err := conn.WriteTo([]byte(s.response()), dest)
		return err
	}
	out, err := net.DialUDP("udp4", nil, udp)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.Write([]byte(s.response()))
	return err
}
