package event

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/apex/log"
	"gopkg.in/irc.v3"
)

// IRCSink relays events at or above MinSeverity to an IRC channel.
type IRCSink struct {
	Nick        string
	Pass        string
	ChannelName string
	MinSeverity Severity

	client *irc.Client
	conn   net.Conn
	joined bool
	mu     *sync.Mutex
}

func NewIRCSink(nick, channel string) *IRCSink {
	return &IRCSink{
		Nick:        nick,
		ChannelName: strings.TrimPrefix(channel, "#"),
		MinSeverity: Info,
		mu:          new(sync.Mutex),
	}
}

// Dial connects to addr ("host:port"), with TLS when useTLS is set, and
// joins the channel once the server welcomes us.
func (s *IRCSink) Dial(addr string, useTLS bool) error {
	var conn net.Conn
	var err error
	if useTLS {
		conn, err = tls.Dial("tcp", addr, nil)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("cannot connect to %s: %w", addr, err)
	}

	s.Attach(conn)
	return nil
}

// Attach runs the IRC client over an established connection.
func (s *IRCSink) Attach(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn = conn
	s.client = irc.NewClient(conn, irc.ClientConfig{
		Nick:    s.Nick,
		Pass:    s.Pass,
		User:    s.Nick,
		Name:    s.Nick,
		Handler: s,
	})

	go s.handleConn(s.client)
}

func (s *IRCSink) handleConn(client *irc.Client) {
	err := client.Run()
	if err != nil {
		log.WithError(err).Warn("IRC connection closed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == client {
		s.joined = false
		s.client = nil
		s.conn.Close()
		s.conn = nil
	}
}

func (s *IRCSink) Handle(c *irc.Client, m *irc.Message) {
	if m.Command != "001" {
		return
	}

	// 001 is a welcome event, so we join channels there
	s.mu.Lock()
	ch := s.ChannelName
	s.joined = true
	s.mu.Unlock()

	c.Write("JOIN #" + ch)
}

func (s *IRCSink) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.joined
}

func (s *IRCSink) Emit(e Event) {
	if e.Severity < s.MinSeverity {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.joined {
		return
	}

	s.client.WriteMessage(&irc.Message{
		Command: "PRIVMSG",
		Params: []string{
			"#" + s.ChannelName,
			e.String(),
		},
	})
}

func (s *IRCSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
