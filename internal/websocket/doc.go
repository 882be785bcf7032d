// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package websocket streams alert lifecycle events to connected dashboards.

The alert service publishes through Hub.BroadcastJSON; the hub fans each
message out to every client whose subscription matches. The HTTP layer
authenticates the upgrade request and hands the connection to NewClient.

Wire format:

	{"type":"security_alert","seq":42,"timestamp":"...","data":{...alert...}}

Clients may narrow the stream:

	{"type":"subscribe","data":{"min_severity":"critical","types":["security.card_testing"]}}

The hub replies with a "subscribed" frame echoing the filter. A "ping" frame
gets a "pong". Filters only apply to alert payloads; entity_blocked and
other notices reach every client.

Delivery:

  - Seq increases by one per broadcast. A gap means messages were dropped
    because the broadcast queue was full (see Hub.Dropped).
  - A client whose send buffer is full is disconnected so one slow
    dashboard cannot stall the rest.
  - On context cancellation the hub closes every client and returns.

The hub runs as the "websocket-hub" service in the messaging layer of the
supervisor tree.
*/
package websocket
