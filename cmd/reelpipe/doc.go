// Command reelpipe runs content workflows from the terminal: batch runs,
// cost inspection, progress management, and approval decisions.
package main
