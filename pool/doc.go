// Package pool
// Author: momentics <momentics@gmail.com>
//
// PDU buffer pooling for the receive path. Receive tasks take one buffer per
// readiness event and hand it to the protocol handler, which releases it (or
// passes it on) when done. A bounded pool turns memory pressure into a
// skipped receive cycle instead of unbounded growth.
package pool
