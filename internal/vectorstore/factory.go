package vectorstore

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/config"
)

// ParseDriver normalizes a driver name. Unknown names map to DriverLanceDB;
// the second result reports whether the name was recognized.
func ParseDriver(name string) (Driver, bool) {
	switch d := Driver(strings.ToLower(strings.TrimSpace(name))); d {
	case DriverLanceDB, driverChromem, "":
		return DriverLanceDB, true
	case DriverQdrant, DriverQdrantGRPC, DriverLocal:
		return d, true
	default:
		return DriverLanceDB, false
	}
}

// NewStore creates the Store selected by cfg.Driver. The store is not
// initialized; call Initialize before use or let the first operation do it.
func NewStore(cfg *config.VectorStoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, known := ParseDriver(cfg.Driver)
	if !known {
		logger.Warn("unknown vector store driver, using lancedb", zap.String("driver", cfg.Driver))
	}

	opts := Options{
		Collection:      cfg.Collection,
		MaxLimit:        cfg.MaxLimit,
		DisableFallback: cfg.DisableFallback,
		FallbackDir:     cfg.FallbackDir,
	}

	switch driver {
	case DriverQdrant:
		s, err := NewHTTPStore(HTTPConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey.Value(),
			Timeout:    cfg.QdrantTimeout,
			VectorSize: cfg.Dimension,
			Distance:   cfg.Distance,
			Client:     &http.Client{},
		}, opts, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	case DriverQdrantGRPC:
		s, err := NewGRPCStore(GRPCConfig{
			Host:       cfg.QdrantGRPCHost,
			Port:       cfg.QdrantGRPCPort,
			APIKey:     cfg.QdrantAPIKey.Value(),
			UseTLS:     cfg.QdrantGRPCTLS,
			Timeout:    cfg.QdrantTimeout,
			VectorSize: cfg.Dimension,
			Distance:   cfg.Distance,
		}, opts, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	case DriverLocal:
		return NewLocalStore(cfg.FallbackDir, opts, logger), nil

	default:
		return NewNativeStore(NativeConfig{
			Path:     cfg.ChromemPath,
			Compress: cfg.ChromemCompress,
		}, opts, logger), nil
	}
}
