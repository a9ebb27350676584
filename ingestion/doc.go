// Package ingestion wires the pipeline stages to the message broker.
//
// Every stage is a broker.Consumer bound to its own queue:
//
//   - crack: CrackDocument → ReadyForChunking (+ DocumentCracked)
//   - chunk: ReadyForChunking → one ChunkReadyForEmbedding per chunk
//   - embed: ChunkReadyForEmbedding → vector index
//   - conversation-user, conversation-assistant: conversation turns of one
//     role → vector index
//
// A Pipeline runs any subset of the stages in one process, so the same
// binary serves as a single all-in-one worker or as one process per stage.
// IndexWriter builds the keys and tags of vector records so reprocessing a
// document overwrites its chunks instead of duplicating them. A revision
// with no text or no chunk long enough is sent on as a ChunkReadyForEmbedding
// with ChunkCount 0, and the embed stage drops the older revision's chunks.
package ingestion
