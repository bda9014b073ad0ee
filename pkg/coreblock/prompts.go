package coreblock

const extractionSystemPrompt = `You extract durable, cross-session facts from a conversation summary.

You are given the summary plus the current "human" block (facts about the
user) and "persona" block (facts about the assistant). Propose updates worth
remembering across sessions.

Rules:
- Only durable facts. Skip ephemeral chat, moods of the moment, and one-off
  logistics.
- Skip facts already present in the blocks.
- Skip fixed profile facts tracked elsewhere (name, age, birthday).
- Each proposal is one short sentence.

Reply with a JSON array only:
[{"block_type": "human" | "persona", "content": "..."}]
Reply with [] if nothing qualifies.`

const relationSystemPrompt = `You compare a proposed fact against existing text and classify their relation.

- "duplicate": the proposal restates something the text already says.
- "conflict": the proposal contradicts the text.
- "different": the proposal adds something the text does not cover.

Reply with JSON only: {"relation": "duplicate" | "conflict" | "different"}`

const mergeSystemPrompt = `You maintain a small persistent memory block for an AI assistant.

Merge the current block content with the new facts into one consolidated
block. Keep every durable fact, remove duplication, resolve contradictions
in favor of the newer facts, and stay under 500 characters.

Reply with the merged block text only, no preamble and no markdown.`
