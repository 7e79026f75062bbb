// Package harness runs scripted sessions against the real engine and
// checks the outcome.
//
// Each run opens a fresh in-memory log and archive with deterministic event
// ids and timestamps, drives an engine Instance through the scenario's
// steps, and evaluates assertions on the final state. The per-step trace is
// stable across runs and is compared against golden files.
//
// # Scenario Format
//
//	name: scorecard_basics
//	description: "Two players and a score"
//	steps:
//	  - append: {type: player/added, payload: {id: p1, name: Alice}}
//	  - batch:
//	      - {type: player/added, payload: {id: p2, name: Bob}}
//	      - {type: score/added, payload: {playerId: p2, delta: 5}}
//	  - append: {type: score/added, payload: {playerId: p9, delta: 1}}
//	    expect_error: MALFORMED_BATCH
//	  - start: {seed: s1, rounds: 2, players: [p1, p2]}
//	  - autoplay: {humans: [p1], max_steps: 50}
//	  - archive: {title: Friday}
//	  - restore: game-0001
//	assertions:
//	  - {type: height, equals: 3}
//	  - {type: score, id: p2, equals: 5}
//
// # Assertion Types
//
//   - height: live log height
//   - player: display name of id, or <absent>
//   - score: running score of id
//   - phase: single-player phase
//   - mode: scorecard or single-player
//   - completed: whether the game is over
//   - games: number of archived records
//   - round: rounds played
package harness
