package log

import (
	"github.com/hatlonely/uidgen/log/logger"
	"github.com/hatlonely/uidgen/log/writer"
	"github.com/hatlonely/uidgen/ref"
)

func init() {
	ref.MustRegister("github.com/hatlonely/uidgen/log/writer", "ConsoleWriter", writer.NewConsoleWriterWithOptions)
	ref.MustRegister("github.com/hatlonely/uidgen/log/writer", "FileWriter", writer.NewFileWriterWithOptions)
	ref.MustRegister("github.com/hatlonely/uidgen/log/writer", "MultiWriter", writer.NewMultiWriterWithOptions)

	ref.MustRegister("github.com/hatlonely/uidgen/log/logger", "SLog", logger.NewSLogWithOptions)
}
