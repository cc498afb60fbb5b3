package httpsrv

import "go.uber.org/fx"

var Module = fx.Module("http_server",
	fx.Provide(NewServer),

	// [LIFECYCLE] Listen on start, drain in-flight requests on stop
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Stop,
		})
	}),
)
