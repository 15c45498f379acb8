// Copyright 2025-2026 The rtgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

// Dev tool. Dials a running gateway as one client, keeps the session
// alive with ping probes, and prints every notification it receives.

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"
)

type probeArgs struct {
	ServerURL    string
	Role         string
	Subject      string
	Key          string
	Token        string
	PingInterval int
}

var probeParams probeArgs

func main() {
	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "websocket probe client",
		Description: "Connects to a rtgate gateway and prints received notifications",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server-url",
				Usage:       "Gateway base URL",
				Aliases:     []string{"s"},
				EnvVars:     []string{"GATEWAY_SERVER_URL"},
				Value:       "ws://localhost:3000",
				DefaultText: "ws://localhost:3000",
				Destination: &probeParams.ServerURL,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "role",
				Usage:       "Connection role: [driver customer admin]",
				Aliases:     []string{"r"},
				EnvVars:     []string{"GATEWAY_ROLE"},
				Value:       "driver",
				DefaultText: "driver",
				Destination: &probeParams.Role,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "subject",
				Usage:       "Subject ID for targeted delivery",
				Aliases:     []string{"u"},
				EnvVars:     []string{"GATEWAY_SUBJECT"},
				Value:       "",
				DefaultText: "",
				Destination: &probeParams.Subject,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "key",
				Usage:       "Shared access key for driver / customer roles",
				Aliases:     []string{"k"},
				EnvVars:     []string{"GATEWAY_KEY"},
				Value:       "",
				DefaultText: "",
				Destination: &probeParams.Key,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "Signed token for the admin role",
				Aliases:     []string{"t"},
				EnvVars:     []string{"GATEWAY_TOKEN"},
				Value:       "",
				DefaultText: "",
				Destination: &probeParams.Token,
				Required:    false,
			},
			&cli.IntFlag{
				Name:        "ping-interval-sec",
				Usage:       "Seconds between keep-alive probes",
				Aliases:     []string{"i"},
				EnvVars:     []string{"GATEWAY_PING_INTERVAL"},
				Value:       30,
				DefaultText: "30",
				Destination: &probeParams.PingInterval,
				Required:    false,
			},
		},
		Action: runProbe,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("Probe shutdown")
	}
}

func runProbe(c *cli.Context) error {
	query := url.Values{}
	if probeParams.Subject != "" {
		query.Set("subject", probeParams.Subject)
	}
	if probeParams.Key != "" {
		query.Set("key", probeParams.Key)
	}
	if probeParams.Token != "" {
		query.Set("token", probeParams.Token)
	}
	target := fmt.Sprintf(
		"%s/v1/ws/%s?%s", probeParams.ServerURL, probeParams.Role, query.Encode(),
	)

	client, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		log.WithError(err).Errorf("Unable to dial %s", target)
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	log.Infof("Connected to %s", target)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := client.ReadMessage()
			if err != nil {
				log.WithError(err).Warn("Session ended")
				return
			}
			fmt.Printf("%s | %s\n", time.Now().Format(time.RFC3339), data)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	pingTicker := time.NewTicker(time.Second * time.Duration(probeParams.PingInterval))
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-pingTicker.C:
			if err := client.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				log.WithError(err).Warn("Keep-alive probe failed")
				return err
			}
		case <-interrupt:
			_ = client.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return nil
		}
	}
}
