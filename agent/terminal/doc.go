// Package terminal implements the interactive line mode of mcpchat.
//
// The terminal reads one line at a time and either handles it as a command
// or sends it to the agent as a query. The conversation summary returned by
// each query is kept and sent along with the next one, so the model keeps
// context across queries without the full history.
//
// # Usage
//
//	a := agent.New(llmClient, mcpClient, agent.WithModel(model))
//	term := terminal.New(a, os.Stdin, os.Stdout, terminal.WithStreaming(true))
//	err := term.Run(ctx, initialPrompt)
//
// # Commands
//
//   - quit, exit, /quit: End the session
//   - stream: Switch between batched and streaming mode
//   - context: Print the current conversation summary
//   - reset: Forget the conversation summary
//   - tools: List the tools offered by the server
//
// Anything else is a query. A failed query prints the error and the session
// continues.
//
// In batched mode (the default) a query runs to completion and its execution
// log is printed afterwards. In streaming mode model text and tool calls are
// printed as they happen.
//
// # Modes
//
// In prompt mode the terminal asks for confirmation before each tool call;
// anything but y or yes declines it.
//
// # Verbosity Levels
//
// Verbosity applies to streaming mode; the batched log always lists every
// tool call and result.
//
//   - None: No tool execution information is displayed
//   - Info: Tool names are displayed when called
//   - All: Tool names, arguments, and results are displayed
package terminal
