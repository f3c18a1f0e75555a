// Package assistant implements a Discord bot that answers questions from
// a plain-text knowledge file, using a hosted language model.
//
// Messages posted in the configured questions channel that end with '?',
// or that mention the bot, are answered. The bot sends the model the
// knowledge text, the last few messages in the channel and the question,
// and replies with the model's answer. If the knowledge file doesn't
// cover the question, the model is told to reply with a sentinel word
// (SILENCE by default). The bot then stays quiet and records the question
// for a human to follow up on, in a file or a review channel.
//
// Key components of the package:
//
//   - Assistant: owns the other components, and runs the bot until its
//     context is canceled.
//   - KnowledgeStore: the in-memory knowledge text, reloadable by an admin
//     with the reload command.
//   - PromptBuilder: composes the prompt and recognizes the sentinel.
//   - Generator: a single request to Gemini (google.golang.org/genai) or
//     an OpenAI-compatible endpoint (go-openai).
//   - Router: classifies each message and runs the answer pipeline.
//   - MissRecorder: records unanswered questions.
//   - KeepAlive: optional HTTP server for liveness checks.
//
// Answers longer than Discord's 2000 character limit are split into 1900
// character chunks, the first sent as a reply to the question.
package assistant
