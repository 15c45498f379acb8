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

package cmd

import (
	"context"
	"encoding/json"

	"github.com/apex/log"
	"github.com/urfave/cli/v2"

	"github.com/roadassist/rtgate/bridge"
)

// NotifyCLIArgs arguments for the one-shot publish command
type NotifyCLIArgs struct {
	Scope   string `validate:"required,oneof=all role subject"`
	Role    string `validate:"omitempty,oneof=driver customer admin"`
	Subject string
	Payload string `validate:"required,json"`
}

// GetNotifyCLIFlags retrieve the set of CMD flags for the publish command
func GetNotifyCLIFlags(args *NotifyCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "scope",
			Usage:       "Target scope: [all role subject]",
			Aliases:     []string{"s"},
			EnvVars:     []string{"NOTIFY_SCOPE"},
			Value:       "all",
			DefaultText: "all",
			Destination: &args.Scope,
			Required:    false,
		},
		&cli.StringFlag{
			Name:        "role",
			Usage:       "Target role: [driver customer admin]",
			Aliases:     []string{"r"},
			EnvVars:     []string{"NOTIFY_ROLE"},
			Value:       "",
			DefaultText: "",
			Destination: &args.Role,
			Required:    false,
		},
		&cli.StringFlag{
			Name:        "subject",
			Usage:       "Target subject ID",
			Aliases:     []string{"u"},
			EnvVars:     []string{"NOTIFY_SUBJECT"},
			Value:       "",
			DefaultText: "",
			Destination: &args.Subject,
			Required:    false,
		},
		&cli.StringFlag{
			Name:        "payload",
			Usage:       "Notification payload as JSON",
			Aliases:     []string{"p"},
			EnvVars:     []string{"NOTIFY_PAYLOAD"},
			Value:       "",
			DefaultText: "",
			Destination: &args.Payload,
			Required:    true,
		},
	}
}

// RunNotifyPublish publish one notification onto the shared channel
func RunNotifyPublish(
	runtimeContext context.Context,
	instance string,
	source bridge.EventSource,
	args NotifyCLIArgs,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "notify",
		"instance":  instance,
	}

	message := bridge.BroadcastMessage{
		Target: bridge.MessageTarget{
			Scope: bridge.TargetScope(args.Scope),
			Role:  args.Role,
		},
		Payload: json.RawMessage(args.Payload),
	}
	if args.Subject != "" {
		message.Target.SubjectID = &args.Subject
	}
	if err := message.Validate(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid notification target")
		return err
	}

	serialized, err := json.Marshal(&message)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to serialize notification")
		return err
	}
	if err := source.Publish(runtimeContext, serialized); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to publish notification")
		return err
	}
	log.WithFields(logTags).Info("Notification published")
	return nil
}
