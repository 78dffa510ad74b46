package store

type FailureKind string

const (
	FailureChannelNotFound FailureKind = "channel_not_found"      // Handle did not resolve, subject is the handle.
	FailureChannelResolve  FailureKind = "channel_resolve_failed" // Resolving a handle failed after retries, subject is the handle.
	FailureItemNotFound    FailureKind = "item_not_found"         // Metadata could not be fetched, subject is the video ID.
	FailureTranscript      FailureKind = "transcript_failed"      // Transcript fetch failed after retries, subject is the video ID.
	FailurePersist         FailureKind = "persist_failed"         // Writing to the store failed, subject is the entity ID.
	FailurePage            FailureKind = "page_fetch_failed"      // A page of uploads failed, subject is the playlist ID.
	FailureQuota           FailureKind = "quota_skipped"          // Skipped because the quota ran out, subject is a video ID or handle.
)

type TranscriptType string

const (
	TubeAuto   TranscriptType = "tube_auto"   // Auto generated YouTube.
	TubeManual TranscriptType = "tube_manual" // Manually added YouTube (creator or community).
)
