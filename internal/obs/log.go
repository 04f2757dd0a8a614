package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

const serviceName = "opsboard"

// The whole service writes single-line JSON to stdout through one shared
// logger, so collectors see a single ordered stream.
var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide line logger.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest writes one JSON object per handled request. Entries come from
// the access-log middleware; the audit trail goes through Logger directly.
// Every entry is stamped with the service name unless the caller set one.
func LogRequest(entry map[string]any) {
	if len(entry) == 0 {
		return
	}
	if _, ok := entry["service"]; !ok {
		entry["service"] = serviceName
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","service":"opsboard","msg":"unmarshalable access log entry"}`)
		return
	}
	Logger().Println(string(data))
}
