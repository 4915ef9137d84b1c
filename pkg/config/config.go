// Package config loads server and client configuration from defaults,
// environment variables (FRAMECAST_* prefix) and an optional
// framecast.yaml file in the working directory.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server holds the server process configuration.
type Server struct {
	ListenAddr    string
	MaxConns      int
	SocketTimeout time.Duration
	VideosDir     string
	DatabasePath  string
	LogLevel      string
}

// Client holds the client process configuration.
type Client struct {
	ServerAddr     string
	BufferCapacity int
	MaxOutstanding int
	RequestTimeout time.Duration
	LogLevel       string
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.listen", ":9950")
	v.SetDefault("server.max_conns", 10)
	v.SetDefault("server.timeout", "10m")
	v.SetDefault("server.videos_dir", "videos")
	v.SetDefault("server.db", "framecast.db")

	v.SetDefault("client.server_addr", "127.0.0.1:9950")
	v.SetDefault("client.buffer_capacity", 50)
	v.SetDefault("client.max_outstanding", 50)
	v.SetDefault("client.request_timeout", "10s")

	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("FRAMECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("framecast")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// A missing config file is fine; defaults and env cover everything.
	_ = v.ReadInConfig()

	return v
}

// LoadServer returns the server configuration.
func LoadServer() Server {
	v := newViper()
	return Server{
		ListenAddr:    v.GetString("server.listen"),
		MaxConns:      v.GetInt("server.max_conns"),
		SocketTimeout: v.GetDuration("server.timeout"),
		VideosDir:     v.GetString("server.videos_dir"),
		DatabasePath:  v.GetString("server.db"),
		LogLevel:      v.GetString("log.level"),
	}
}

// LoadClient returns the client configuration.
func LoadClient() Client {
	v := newViper()
	return Client{
		ServerAddr:     v.GetString("client.server_addr"),
		BufferCapacity: v.GetInt("client.buffer_capacity"),
		MaxOutstanding: v.GetInt("client.max_outstanding"),
		RequestTimeout: v.GetDuration("client.request_timeout"),
		LogLevel:       v.GetString("log.level"),
	}
}
