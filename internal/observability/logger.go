package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs a console logger tagged with the node name. extra
// writers (such as the greybus log cport) receive the JSON form.
func InitLogger(node string, extra ...io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	var w io.Writer = output
	if len(extra) > 0 {
		writers := append([]io.Writer{output}, extra...)
		w = zerolog.MultiLevelWriter(writers...)
	}
	logger := zerolog.New(w).With().Timestamp().Str("node", node).Logger()
	log.Logger = logger
	return logger
}
