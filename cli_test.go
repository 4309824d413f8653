package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCLIParameters(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "start server", args: []string{"--config", "bridge.ini", "--start-server"}},
		{name: "short config flag", args: []string{"-c", "bridge.ini", "--sync"}},
		{name: "add client", args: []string{"--config", "bridge.ini", "--add-client", "--client-id", "chat", "--client-secret", "s"}},
		{name: "revoke client", args: []string{"--config", "bridge.ini", "--revoke-client", "--client-id", "chat"}},
		{name: "add user", args: []string{"--config", "bridge.ini", "--add-user", "--username", "carol", "--email", "carol@example.com", "--password", "pw"}},
		{name: "add user without password", args: []string{"--config", "bridge.ini", "--add-user", "--username", "carol"}, wantErr: "invalid password"},
		{name: "add user without username", args: []string{"--config", "bridge.ini", "--add-user", "--password", "pw"}, wantErr: "invalid username"},
		{name: "add user and client", args: []string{"--config", "bridge.ini", "--add-user", "--add-client"}, wantErr: "only one of"},
		{name: "no config", args: []string{"--start-server"}, wantErr: "no config path given"},
		{name: "no mode", args: []string{"--config", "bridge.ini"}, wantErr: "you need to specify"},
		{name: "server and client", args: []string{"--config", "bridge.ini", "--start-server", "--add-client"}, wantErr: "start the server"},
		{name: "add and revoke", args: []string{"--config", "bridge.ini", "--add-client", "--revoke-client", "--client-id", "chat"}, wantErr: "only one of"},
		{name: "add without secret", args: []string{"--config", "bridge.ini", "--add-client", "--client-id", "chat"}, wantErr: "invalid client secret"},
		{name: "revoke without id", args: []string{"--config", "bridge.ini", "--revoke-client"}, wantErr: "invalid client id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var params cliParameters
			_, err := handleCLIParameters(&params, tt.args)

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "bridge.ini", *params.ConfigPath)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHandleCLIParametersUnknownFlag(t *testing.T) {
	var params cliParameters
	_, err := handleCLIParameters(&params, []string{"--config", "bridge.ini", "--verbose"})

	assert.Error(t, err)
}
