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

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/roadassist/rtgate/bridge"
	"github.com/roadassist/rtgate/cmd"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/core"
	"github.com/roadassist/rtgate/lifecycle"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	JSONLog    bool
	LogLevel   string `validate:"required,oneof=debug info warn error"`
	ConfigFile string `validate:"omitempty,file"`
	Hostname   string
}

var cmdArgs cliArgs

var notifyArgs cmd.NotifyCLIArgs

var logTags log.Fields

// @title rtgate
// @version v0.1.0
// @description Realtime notification gateway for ride and roadside assistance platforms

// @host localhost:3000
// @BasePath /
// @query.collection.format multi
func main() {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("Unable to read hostname")
	}
	cmdArgs.Hostname = hostname
	logTags = log.Fields{
		"module":    "main",
		"component": "main",
		"instance":  hostname,
	}

	common.InstallDefaultConfigValues()

	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "application entrypoint",
		Description: "Realtime notification gateway for ride and roadside assistance platforms",
		Flags: []cli.Flag{
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &cmdArgs.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "warn",
				DefaultText: "warn",
				Destination: &cmdArgs.LogLevel,
				Required:    false,
			},
			// Config file
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Application config file. Use DEFAULT if not specified.",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.ConfigFile,
				Required:    false,
			},
		},
		// Components
		Commands: []*cli.Command{
			{
				Name:        "gateway",
				Usage:       "Run the rtgate gateway server",
				Description: "Holds realtime websocket connections and relays channel notifications into them",
				Action:      startGatewayServer,
			},
			{
				Name:        "notify",
				Usage:       "Publish one notification",
				Description: "Publishes a single notification onto the shared event channel",
				Flags:       cmd.GetNotifyCLIFlags(&notifyArgs),
				Action:      publishNotification,
			},
		},
	}

	err = app.Run(os.Args)
	if err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// setupLogging helper function to prepare the app logging
func setupLogging() {
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch cmdArgs.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}

// initialCmdArgsProcessing perform initial CMD arg processing
func initialCmdArgsProcessing() (*common.SystemConfig, error) {
	validate := validator.New()
	// Validate command line argument
	if err := validate.Struct(&cmdArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return nil, err
	}
	setupLogging()
	tmp, err := json.MarshalIndent(&cmdArgs, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal args")
		return nil, err
	}
	log.Debugf("Starting params\n%s", tmp)
	// Parse the config file
	if len(cmdArgs.ConfigFile) > 0 {
		viper.SetConfigFile(cmdArgs.ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Failed to read config file %s", cmdArgs.ConfigFile,
			)
			return nil, err
		}
	}
	var config common.SystemConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to parse config file %s", cmdArgs.ConfigFile,
		)
		return nil, err
	}
	tmp, err = json.MarshalIndent(&config, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal config files")
		return nil, err
	}
	log.Debugf("Config file\n%s", tmp)
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid config file content")
		return nil, err
	}
	return &config, nil
}

// prepareEventSource define the event channel client based on the URL scheme
func prepareEventSource(
	config common.ChannelConfig, ctxtCancel context.CancelFunc,
) (bridge.EventSource, func(ctxt context.Context) error, lifecycle.ResourceCloser, error) {
	parsed, err := url.Parse(config.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	switch parsed.Scheme {
	case "redis", "rediss":
		client, err := core.GetRedisClient(core.RedisConnectParams{
			ServerURL:      config.URL,
			ConnectTimeout: time.Second * time.Duration(config.ConnectTimeout),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		closer := func(ctxt context.Context) error {
			client.Close(ctxt)
			return nil
		}
		return bridge.NewRedisEventSource(client, config.Name), client.Ready, closer, nil
	case "nats":
		client, err := core.GetNatsClient(core.NATSConnectParams{
			ServerURI:      config.URL,
			ConnectTimeout: time.Second * time.Duration(config.ConnectTimeout),
			ReconnectWait:  time.Second * time.Duration(config.Reconnect.MaxInterval),
			OnDisconnectCallback: func(_ *nats.Conn, e error) {
				log.WithError(e).WithFields(logTags).Errorf(
					"NATS client disconnected from server %s", config.URL,
				)
			},
			OnReconnectCallback: func(_ *nats.Conn) {
				log.WithFields(logTags).Warnf(
					"NATS client reconnected with server %s", config.URL,
				)
			},
			OnCloseCallback: func(_ *nats.Conn) {
				log.WithFields(logTags).Error("NATS client closed connection")
				ctxtCancel()
			},
		})
		if err != nil {
			return nil, nil, nil, err
		}
		ready := func(ctxt context.Context) error {
			return client.Ready()
		}
		closer := func(ctxt context.Context) error {
			client.Close(ctxt)
			return nil
		}
		return bridge.NewNatsEventSource(client, config.Name), ready, closer, nil
	}
	return nil, nil, nil, fmt.Errorf("channel URL scheme '%s' not supported", parsed.Scheme)
}

func defineControlVars() (*sync.WaitGroup, context.Context, context.CancelFunc) {
	runTimeContext, rtCancel := context.WithCancel(context.Background())
	return &sync.WaitGroup{}, runTimeContext, rtCancel
}

// signalRecvSetup helper function for setting up the SIG receive handler
func signalRecvSetup(wg *sync.WaitGroup, ctxtCancel context.CancelFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		cc := make(chan os.Signal, 1)
		// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
		// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
		signal.Notify(cc, os.Interrupt)
		<-cc
		ctxtCancel()
	}()
}

// ============================================================================
// Gateway subcommand

// startGatewayServer run the gateway server
func startGatewayServer(c *cli.Context) error {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return err
	}

	wg, runTimeContext, rtCancel := defineControlVars()
	defer wg.Wait()
	defer rtCancel()

	source, channelReady, channelCloser, err := prepareEventSource(config.Channel, rtCancel)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to define event channel client with %s", config.Channel.URL,
		)
		return err
	}

	signalRecvSetup(wg, rtCancel)

	return cmd.RunGatewayServer(
		runTimeContext, config, cmdArgs.Hostname, source, channelReady, channelCloser, wg,
	)
}

// ============================================================================
// Notify subcommand

// publishNotification publish one notification onto the shared channel
func publishNotification(c *cli.Context) error {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return err
	}
	validate := validator.New()
	if err := validate.Struct(&notifyArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}

	_, runTimeContext, rtCancel := defineControlVars()
	defer rtCancel()

	source, _, channelCloser, err := prepareEventSource(config.Channel, rtCancel)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to define event channel client with %s", config.Channel.URL,
		)
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		_ = channelCloser(ctx)
	}()

	return cmd.RunNotifyPublish(runTimeContext, cmdArgs.Hostname, source, notifyArgs)
}
