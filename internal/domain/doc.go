// Package domain models the climate risk ingestion pipeline's core data.
//
// # Data Flow
//
// Patient/member batches arrive as CSV uploads. Each record is joined to its
// ZIP code's environmental readings (daily maximum temperature and maximum US
// AQI during batch ingestion, a multi-day hourly series for single-record
// submissions), then handed to an external scoring delegate that produces one
// risk row per record. The latest scored generation fully replaces the
// previous one in the result store.
//
// # ZIP Conventions
//
// ZIP codes are the join key between records and environmental data. A batch
// resolves each unique ZIP at most once; per-ZIP failures (unknown ZIP,
// upstream fetch error) are absorbed into the ZIP's Snapshot as error markers
// rather than aborting the batch.
//
// # Snapshot Lifetime
//
// A Snapshot is valid for the calendar day it was fetched on. The daily cache
// persists snapshots across requests within one day and discards them
// wholesale on the next; stale data is never merged with fresh fetches.
package domain
