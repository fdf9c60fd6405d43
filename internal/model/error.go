package model

import "errors"

var ErrorMissingChannelID = errors.New("channel id is required")
var ErrorChannelNotFound = errors.New("channel not found")
var ErrorConflictingCursors = errors.New("only one of startId and minId may be set")
var ErrorInvalidCursor = errors.New("invalid cursor")
var ErrorFetcherExists = errors.New("a fetcher already exists in this process")
var ErrorFetcherClosed = errors.New("fetcher closed")
var ErrorFileNotCached = errors.New("file id not cached")
var ErrorCheckpointNotFound = errors.New("checkpoint not found")
