package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostPort(t *testing.T) {
	tests := map[string]string{
		"http://localhost:7233":        "localhost:7233",
		"https://ns.tmprl.cloud:7233":  "ns.tmprl.cloud:7233",
		"localhost:7233":               "localhost:7233",
		"grpc://10.0.0.5:7233/ignored": "10.0.0.5:7233",
		"http://":                      "http://",
	}
	for in, want := range tests {
		assert.Equal(t, want, hostPort(in), in)
	}
}

func TestUserAgent(t *testing.T) {
	assert.Empty(t, userAgent(GatewayOptions{}))
	assert.Equal(t, "wfharness", userAgent(GatewayOptions{ClientName: "wfharness"}))
	assert.Equal(t, "wfharness/0.1.0", userAgent(GatewayOptions{ClientName: "wfharness", ClientVersion: "0.1.0"}))
	assert.Empty(t, userAgent(GatewayOptions{ClientVersion: "0.1.0"}))
}
