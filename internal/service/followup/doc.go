// Package followup handles replies from broadcast recipients. Every inbound
// message is recorded and correlated to the most recent campaign that
// targeted its sender; when the reply contains the campaign's trigger
// keyword, a personalized follow-up is sent back and its outcome stored.
package followup
