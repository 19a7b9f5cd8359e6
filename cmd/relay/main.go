// Relay is a multi-provider LLM API gateway.
//
// It exposes the OpenAI Chat Completions, OpenAI Responses, Anthropic
// Messages, and Gemini generateContent endpoints over a single unified
// request body, and fans requests out to configured upstream providers
// with weighted routing, circuit breaking, and mid-request failover.
//
// Usage:
//
//	# Start the gateway with the default configuration file
//	relay run
//
//	# Start with a custom configuration file
//	relay run --config /etc/relay/config.yaml
//
//	# Validate a configuration file without starting
//	relay validate --config /etc/relay/config.yaml
//
//	# Show version information
//	relay version
package main

func main() {
	Execute()
}
