package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func entryFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "entry",
		Aliases:  []string{"e"},
		Usage:    "Entry id (may be omitted when only one entry exists)",
		Required: required,
	}
}

func agentFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "agent",
		Aliases: []string{"a"},
		Usage:   "Agent (subentry) id; defaults to the entry's first agent of the right type",
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "qwenai",
		Usage:     "Run conversation and AI task agents against Qwen and other OpenAI-compatible endpoints",
		Writer:    out,
		ErrWriter: errOut,
		Metadata:  map[string]any{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yaml (defaults to QWENAI_CONFIG_PATH or ./config.yaml)",
			},
			&cli.StringFlag{
				Name:    "lang",
				Usage:   "Language for messages (en, de, zh-Hans)",
				EnvVars: []string{"QWENAI_LANG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "setup",
				Usage:  "Add an endpoint: validates the key and base URL and tests the connection",
				Action: setupCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "api-key",
						Usage:    "API key",
						EnvVars:  []string{"QWENAI_API_KEY"},
						Required: true,
					},
					&cli.StringFlag{
						Name:  "base-url",
						Usage: "OpenAI-compatible base URL",
					},
					&cli.BoolFlag{
						Name:  "allow-local",
						Usage: "Allow plain HTTP to a host on the local network",
					},
				},
			},
			{
				Name:  "agent",
				Usage: "Manage the agents of an entry",
				Subcommands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Add a conversation or AI task agent; without --model the available models are listed",
						Action: agentAddCommand,
						Flags: []cli.Flag{
							entryFlag(false),
							&cli.StringFlag{
								Name:  "type",
								Usage: "conversation or ai_task_data",
								Value: "conversation",
							},
							&cli.StringFlag{
								Name:  "model",
								Usage: "Model id",
							},
							&cli.StringFlag{
								Name:  "prompt",
								Usage: "Instructions for a conversation agent",
							},
							&cli.StringSliceFlag{
								Name:  "llm-api",
								Usage: "Tool set the conversation agent may use",
							},
							&cli.BoolFlag{
								Name:  "recommended",
								Usage: "Use the recommended prompt and settings",
								Value: true,
							},
						},
					},
					{
						Name:   "remove",
						Usage:  "Remove an agent",
						Action: agentRemoveCommand,
						Flags: []cli.Flag{
							entryFlag(false),
							&cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Usage: "Agent id", Required: true},
						},
					},
				},
			},
			{
				Name:   "options",
				Usage:  "Show or change an entry's options",
				Action: optionsCommand,
				Flags: []cli.Flag{
					entryFlag(false),
					&cli.StringFlag{Name: "base-url", Usage: "Override the base URL"},
					&cli.StringFlag{Name: "max-tokens", Usage: "Maximum tokens to return"},
					&cli.StringFlag{Name: "temperature", Usage: "Sampling temperature (0-2)"},
					&cli.StringFlag{Name: "top-p", Usage: "Nucleus sampling (0-1]"},
					&cli.StringFlag{Name: "timeout", Usage: "Total time budget per request, e.g. 45s"},
				},
			},
			{
				Name:   "entries",
				Usage:  "List entries and their agents",
				Action: entriesCommand,
			},
			{
				Name:   "models",
				Usage:  "List the models an entry's endpoint offers",
				Action: modelsCommand,
				Flags:  []cli.Flag{entryFlag(false)},
			},
			{
				Name:      "chat",
				Usage:     "Send one message to a conversation agent",
				ArgsUsage: "<message>",
				Action:    chatCommand,
				Flags: []cli.Flag{
					entryFlag(false),
					agentFlag(),
					&cli.StringFlag{
						Name:  "conversation-id",
						Usage: "Conversation id forwarded to the endpoint",
					},
				},
			},
			{
				Name:      "task",
				Usage:     "Run an AI task agent",
				ArgsUsage: "<instructions>",
				Action:    taskCommand,
				Flags: []cli.Flag{
					entryFlag(false),
					agentFlag(),
					&cli.StringFlag{
						Name:  "name",
						Usage: "Task name",
						Value: "task",
					},
					&cli.PathFlag{
						Name:  "schema",
						Usage: "JSON schema file the result must follow",
					},
					&cli.StringSliceFlag{
						Name:  "attach",
						Usage: "Image URL or file to attach",
					},
				},
			},
			{
				Name:   "remove",
				Usage:  "Remove an entry and all its agents",
				Action: removeCommand,
				Flags:  []cli.Flag{entryFlag(true)},
			},
		},
	}
}
