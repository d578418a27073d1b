// Package treantai implements a Discord bot that forwards user prompts to
// a conversational AI backend and to a stable diffusion image API, relaying
// the results back into Discord.
//
// Key components of the package include:
//
//   - Treantai: The main struct that wires configuration, logging and the
//     components below, and runs the bot.
//   - Discord: Handles the Discord session, gateway handlers and command
//     registration.
//   - Dispatcher: Sends prompts to the configured ChatBackend (OpenAI or
//     Anthropic), always producing an AIResponse.
//   - ImageBackend: Builds and sends stable diffusion requests.
//   - API: An optional status API.
//
// The bot supports two slash commands:
//
//   - /chat: Sends a prompt to the AI backend. Long answers are split and
//     sent to the user by direct message.
//   - /image: Generates an image from a prompt, with optional style, size,
//     step, seed and guidance scale options.
//
// When enabled, allow-listed users may also chat with the bot over direct
// messages.
package treantai
