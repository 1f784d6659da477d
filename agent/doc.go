// Package agent runs the agentic loop: it sends the conversation to a
// language model, executes the tool calls the model asks for on the MCP
// server, feeds the results back, and repeats until the model stops asking
// for tools or the iteration budget is spent.
//
// # Entry points
//
// ProcessQuery collects everything that happens into an execution log and
// returns it with a summary of the conversation:
//
//	a := agent.New(llmClient, mcpClient, agent.WithModel(model))
//	log, summary, err := a.ProcessQuery(ctx, "list files", previousSummary)
//
// ProcessQueryWithStreaming runs the same loop but reports each event as it
// happens through ProcessCallbacks:
//
//	summary, err := a.ProcessQueryWithStreaming(ctx, query, previousSummary, agent.ProcessCallbacks{
//	    OnTextDelta: func(delta string) {
//	        // print text as the model generates it
//	    },
//	    OnToolCall: func(call session.Block) {
//	        // announce the tool call
//	    },
//	    OnToolResult: func(call session.Block, result string) {
//	        // show the result
//	    },
//	    ShouldExecuteTool: func(call session.Block) bool {
//	        // ask the user (prompt mode only)
//	        return true
//	    },
//	})
//
// # Tool calls
//
// Every tool_use block in an assistant turn is answered by exactly one
// tool_result block in the next user turn, in the order the model requested
// them. A failed, declined or unknown tool call is not an error of the
// query: it becomes a tool_result flagged is_error so the model can adapt.
// With WithParallelTools the calls of one turn run concurrently; their
// results keep the request order.
//
// A failing model call ends the query with an errors.ModelCallError. There
// is no retry.
//
// # Modes
//
//   - ModeAuto: Tools are executed without confirmation
//   - ModePrompt: ShouldExecuteTool is asked before each call
//
// # Context
//
// After the loop the conversation is passed to a compact.Compactor, and the
// resulting summary is meant to be handed back as priorSummary on the next
// query. If compaction fails the previous summary is returned unchanged.
//
// # Subpackages
//
// agent/terminal: the interactive line prompt.
package agent
