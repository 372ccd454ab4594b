// Package rpc hosts guests in separate processes over go-plugin's net/rpc
// protocol. Guest binaries call Serve; the host opens them with a Launcher.
package rpc

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// PluginName is the name guests are dispensed under.
const PluginName = "guest"

// Handshake is shared by the host and guest binaries. A binary started
// without the cookie refuses to serve.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "REGLET_GUEST_PLUGIN",
	MagicCookieValue: "guest",
}

// PluginMap returns the plugin set. impl is nil on the host side.
func PluginMap(impl ports.Guest, manifest values.Manifest) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginName: &GuestPlugin{Impl: impl, Manifest: manifest},
	}
}

// Serve runs impl as a guest plugin. It blocks until the host disconnects.
func Serve(impl ports.Guest, manifest values.Manifest) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap(impl, manifest),
	})
}

// NewPluginLogger creates the hclog logger go-plugin writes guest output to.
func NewPluginLogger(output io.Writer, level hclog.Level) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "guest-plugin",
		Level:  level,
		Output: output,
	})
}
