// Package agentloop implements a minimal autonomous shell agent.
//
// A Session asks a language model what to do, runs the command it proposes
// in a local shell, and feeds the captured output back as the next prompt.
// The loop ends when the model replies with TaskDoneSentinel, when the query
// budget is spent, or when a fatal error occurs.
//
// # Architecture
//
//   - ChatClient: sends the system prompt, history and next prompt through a
//     unifiedllm.Client, retrying within a per-turn attempt budget and
//     waiting out rate limits for as long as the server asks.
//   - CommandExtractor: pulls the first recognised fenced block (```bash,
//     ```powershell, ...) out of a reply, by tag priority.
//   - ShellExecutor: runs the command under the named interpreter with a
//     timeout, returning stdout and stderr as text.
//   - Session: the orchestrator, holding the append-only History and
//     publishing SessionEvents for the host application.
//
// # Quick Start
//
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("http",
//	    unifiedllm.NewHTTPAdapter(apiKey, logger)))
//	chat := agentloop.NewChatClient(client, model, 3, logger)
//	exec := agentloop.NewShellExecutor(logger)
//	session := agentloop.NewSession(chat, exec, agentloop.SessionConfig{
//	    SystemPrompt: prompt,
//	    MaxQueries:   10,
//	    ShellTags:    []string{"bash"},
//	}, logger)
//	defer session.Close()
//
//	result, err := session.Run(ctx)
package agentloop
