package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"

	"github.com/athera-io/athera-sync/internal/credential"
	"github.com/athera-io/athera-sync/internal/sirius"
)

// extraDialOptions are appended to every session's dial options. Tests use it
// to route sessions to an in-process server.
var extraDialOptions []grpc.DialOption

// credentialOptions builds credential options from the resolved config.
func (cc *CLIContext) credentialOptions() credential.Options {
	return credential.Options{
		TokenPath:    cc.Cfg.TokenFile,
		IdentityURL:  cc.Cfg.IdentityURL,
		ClientID:     cc.Cfg.ClientID,
		ClientSecret: cc.Cfg.ClientSecret,
		Logger:       cc.Logger,
	}
}

// tokenSource prefers ATHERA_API_TOKEN over the saved token file.
func (cc *CLIContext) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if cc.Cfg.StaticToken != "" {
		cc.Logger.Debug("using token from environment")
		return credential.Static(cc.Cfg.StaticToken)
	}

	ts, err := credential.TokenSourceFromPath(ctx, cc.credentialOptions())
	if errors.Is(err, credential.ErrNotLoggedIn) {
		return nil, fmt.Errorf("not logged in: run 'athera-sync login' or set ATHERA_API_TOKEN")
	}

	return ts, err
}

// newSession opens a Sirius session for the resolved region or endpoint.
func (cc *CLIContext) newSession(ctx context.Context) (*sirius.Session, error) {
	ts, err := cc.tokenSource(ctx)
	if err != nil {
		return nil, err
	}

	return sirius.NewSession(sirius.Config{
		Region:      cc.Cfg.Region,
		Regions:     cc.Cfg.Regions,
		Endpoint:    cc.Cfg.Endpoint,
		Insecure:    cc.Cfg.Insecure,
		Tokens:      ts,
		CallTimeout: cc.Cfg.CallTimeout,
		Observer:    cc.Metrics,
		Logger:      cc.Logger,
		DialOptions: extraDialOptions,
	})
}

// groupID returns the active group or explains how to set one.
func (cc *CLIContext) groupID() (string, error) {
	if cc.Cfg.GroupID == "" {
		return "", fmt.Errorf("no active group: set group_id in the config, ATHERA_GROUP_ID or --group")
	}

	return cc.Cfg.GroupID, nil
}
