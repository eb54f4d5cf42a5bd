// Package llm provides a provider-neutral abstraction layer for Large Language Model (LLM) APIs.
//
// This package defines common types, interfaces, and utilities that allow the codebase
// to work with multiple LLM providers (Anthropic, OpenAI, Gemini, Ollama) without being
// tightly coupled to any specific provider's SDK.
//
// # Core Concepts
//
//  1. Messages: The Message type represents a conversation message with role (user, assistant, system)
//     and content blocks (text, tool use, tool results).
//
//  2. Tools: The ToolSpec type represents a tool definition that can be provided to an LLM,
//     and ToolUseBlock/ToolResultBlock represent tool invocations and their results.
//
//  3. Client Interface: The Client interface provides Complete() for non-streaming calls.
//     Implementations handle provider-specific details.
//
//  4. Capabilities: The CapabilityTable describes which request parameters each model
//     family accepts and how its token-limit field is named. Adapt() rewrites a generic
//     request into a provider-legal one, stripping unsupported fields with warnings.
//
//  5. Middleware: The Middleware interface allows adding cross-cutting concerns like
//     logging, retry logic, rate limiting, etc. without modifying provider implementations.
//
//  6. Errors: The Error type provides provider-neutral error handling with support for
//     rate limits, quota, safety blocks, retryable errors, and provider-specific details.
//
// Usage Example
//
//	table := llm.DefaultCapabilityTable()
//	req := &llm.Request{
//	    Messages:  []llm.Message{llm.NewTextMessage(llm.RoleUser, "hello")},
//	    MaxTokens: 1024,
//	}
//	adapted, warnings := table.Adapt(req, "o1-preview")
//	resp, err := client.Complete(ctx, adapted)
package llm
