package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fyrsmithlabs/wfharness/internal/logging"
	"go.temporal.io/sdk/client"
	"google.golang.org/grpc"
)

// dialService connects to a Temporal frontend and returns its workflow
// service with a func that closes the connection.
func dialService(ctx context.Context, opts GatewayOptions, identity string, logger *logging.Logger) (WorkflowService, func(), error) {
	clientOpts := client.Options{
		HostPort:  hostPort(opts.TargetURL),
		Namespace: opts.Namespace,
		Identity:  identity,
		Logger:    logging.Temporal(logger),
	}
	if opts.APIKey.IsSet() {
		clientOpts.Credentials = client.NewAPIKeyStaticCredentials(opts.APIKey.Value())
	}
	if ua := userAgent(opts); ua != "" {
		clientOpts.ConnectionOptions.DialOptions = append(clientOpts.ConnectionOptions.DialOptions, grpc.WithUserAgent(ua))
	}

	c, err := client.DialContext(ctx, clientOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", clientOpts.HostPort, err)
	}
	return c.WorkflowService(), c.Close, nil
}

// hostPort strips a URL scheme; bare host:port values pass through.
func hostPort(target string) string {
	if !strings.Contains(target, "://") {
		return target
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Host
}

func userAgent(opts GatewayOptions) string {
	switch {
	case opts.ClientName == "":
		return ""
	case opts.ClientVersion == "":
		return opts.ClientName
	default:
		return opts.ClientName + "/" + opts.ClientVersion
	}
}
