// Package dedupe guarantees that a given (chat, message, action) triple is
// acted upon at most once across every worker running in this process.
//
// Several session workers may receive the same inbound event (multi-device
// fan-out, retried delivery). Before doing side-effecting work a worker calls
// TryLockForProcessing; the first caller wins, later callers are refused until
// the winner calls MarkAsProcessed or its lock times out.
//
//	key, ok := dedupe.GenerateKey(chatID, messageID)
//	if !ok {
//	    return // cannot deduplicate, do not proceed
//	}
//	if !d.TryLockForProcessing(key, workerID, "welcome") {
//	    return
//	}
//	// ... send the welcome message ...
//	d.MarkAsProcessed(key, workerID, "welcome")
//
// Records are deliberately short-lived: a completed record is dropped after the
// retention window, and the total record count is capped. This is a best-effort
// in-memory guard, not a durable ledger.
package dedupe
