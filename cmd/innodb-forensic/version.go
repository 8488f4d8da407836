// Copyright 2024 The zbdba Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

var (
	ProjectName = "innodb-forensic"
	Major       = 1
	Minor       = 0
	Patch       = 0
	GitSHA      = "Not provided"
	BuildTime   = "Not provided"
)

func PrintLogo() string {
	// http://patorjk.com/software/taag/#p=display&f=Slant&t=innodb-forensic
	LogoStr := `
    _                           ____        ____                           _
   (_)___  ____  ____  ____  __/ / /_      / __/___  ________  ____  _____(_)____
  / / __ \/ __ \/ __ \/ __ \/ __  / __ \  / /_/ __ \/ ___/ _ \/ __ \/ ___/ / ___/
 / / / / / / / / /_/ / /_/ / /_/ / /_/ / / __/ /_/ / /  /  __/ / / (__  ) / /__
/_/_/ /_/_/ /_/\____/\____/\__,_/_.___/ /_/  \____/_/   \___/_/ /_/____/_/\___/
`
	return LogoStr
}
