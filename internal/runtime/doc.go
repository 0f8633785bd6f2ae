// Package runtime wires storage, config, the chat registry, and chat
// aggregates into a single-node instance. It exposes Open/Close, basic
// health checks, and chat lifecycle helpers used by the servers and CLI.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	c, _ := rt.CreateChat(ctx, chatID, "general", "", ownerID, nil, nowMs)
//	res, _ := c.SendMessage(ctx, chat.SendArgs{...})
package runtime
