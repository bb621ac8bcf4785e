// Package protocol implements the parsing and serialising of the AT style
// line protocol spoken by the Calypso Wi-Fi module.
//
// - `Schema`   - The declared shape of a command: prefix, ordered fields,
//                response and timeout.
// - `Command`  - A validated, immutable instance of a Schema.
// - `Response` - The data lines a module sends before the terminator line.
// - `Event`    - An unsolicited result code. These can arrive at any time,
//                interleaved with responses.
//
// === General Syntax
//
// - lines are `\r\n` delimited
// - commands sent to the module start with `AT`, everything the module sends
//   back (except the success terminator) starts with `+`
// - keywords are case sensitive
//
//   ```
//     > AT+<prefix>[=<arg>[,<arg>...]]\r\n
//     < [+<token>:<field>[,<field>...]\r\n ...]
//     < OK\r\n
//   ```
//
// A command produces zero or more data lines and then exactly one terminator
// line. The module answers one command at a time, there is no request ID.
//
// === Arguments
//
// - integers are written in their declared base without leading zeros
// - text is written verbatim, or wrapped in `"` when the command quotes text.
//   `"` and `\` (and `,` when unquoted) are escaped with `\`
// - enums are written as their declared token
// - trailing absent arguments are dropped. An absent argument before a
//   present one is written as an empty field
//
//   ```
//     > AT+wlanConnect=home,,WPA_WPA2,secret\r\n
//   ```
//
// === Error responses
//
//   ```
//     > AT+test\r\n
//     < +error:<code>,<description>\r\n
//   ```
//
// Where `<code>` is a signed integer and `<description>` is a human readable
// string.
//
// === Events
//
//   ```
//     < +eventwlan:connect,home,00:11:22:33:44:55\r\n
//   ```
//
// Event lines are matched by their longest known prefix.
package protocol
