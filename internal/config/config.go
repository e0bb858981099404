package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/devport.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	SessionRoot  string `envconfig:"SESSION_ROOT" default:"/app/data/sessions"`

	// Container engine
	EngineBackend string `envconfig:"ENGINE_BACKEND" default:"auto"` // auto|docker|cli
	EngineBinary  string `envconfig:"ENGINE_BINARY" default:""`      // docker or podman; probed when empty
	EngineTimeout string `envconfig:"ENGINE_TIMEOUT" default:"60s"`
	DockerHost    string `envconfig:"DOCKER_HOST" default:""`

	// Session containers
	Image          string `envconfig:"IMAGE" default:"android-dev-base:latest"`
	ContainerPort  int    `envconfig:"CONTAINER_PORT" default:"8080"`
	WorkspaceMount string `envconfig:"WORKSPACE_MOUNT" default:"/workspace"`
	MemoryLimit    string `envconfig:"MEMORY_LIMIT" default:""`

	// Port pool leased to sessions
	PortRangeStart int `envconfig:"PORT_RANGE_START" default:"20000"`
	PortRangeEnd   int `envconfig:"PORT_RANGE_END" default:"20999"`

	// Environment passed verbatim into every session container
	APIKey          string `envconfig:"API_KEY" default:""`
	ADBServerSocket string `envconfig:"ADB_SERVER_SOCKET" default:""`

	// Host used when building session access URLs
	AccessHost string `envconfig:"ACCESS_HOST" default:"127.0.0.1"`

	ReconcileInterval string `envconfig:"RECONCILE_INTERVAL" default:"5s"`

	// Terminal session settings
	TerminalHistorySize int    `envconfig:"TERMINAL_HISTORY_SIZE" default:"1048576"`
	TerminalIdleTimeout string `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"30m"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("DEVPORT", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
