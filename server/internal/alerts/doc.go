// Package alerts evaluates alert rules against incoming observations and
// delivers fire and resolve notifications to Teams, Slack or generic HTTP
// webhooks.
package alerts
