package devserver

import "github.com/fyrsmithlabs/wfharness/internal/logging"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.Named("devserver")
		}
	}
}

// WithHistoryPageSize limits how many events one history page carries.
// Zero, the default, returns whole histories.
func WithHistoryPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}
